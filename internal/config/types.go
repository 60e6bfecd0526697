package config

import (
	"encoding/json"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Duration is a time.Duration written as a Go duration string ("15m") in config.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ProviderType selects the endpoint and claim presets of an identity provider.
type ProviderType string

const (
	ProviderGitHub   ProviderType = "github"
	ProviderGoogle   ProviderType = "google"
	ProviderFacebook ProviderType = "facebook"
	ProviderOIDC     ProviderType = "oidc"
	// ProviderOAuth2 is a plain OAuth2 provider; every endpoint must be configured.
	ProviderOAuth2 ProviderType = "oauth2"
)

// ReplayStoreKind selects how state nonces are remembered after use.
type ReplayStoreKind string

const (
	ReplayStoreNone   ReplayStoreKind = "none"
	ReplayStoreMemory ReplayStoreKind = "memory"
	ReplayStoreRedis  ReplayStoreKind = "redis"
)

// Config is the top-level configuration.
type Config struct {
	Version   string          `json:"version"`
	Server    ServerConfig    `json:"server"`
	Provider  ProviderConfig  `json:"provider"`
	Handshake HandshakeConfig `json:"handshake"`
	Replay    ReplayConfig    `json:"replay"`
}

// ServerConfig configures the HTTP host.
type ServerConfig struct {
	Addr string `json:"addr"`

	// BaseURL, when set, is used to build the redirect URI instead of the
	// request's Host header.
	BaseURL string `json:"baseURL,omitempty"`

	// AllowedReturnHosts lists hosts that absolute return URLs may point to.
	// Relative return URLs are always allowed.
	AllowedReturnHosts []string `json:"allowedReturnHosts,omitempty"`
}

// ProviderConfig describes the identity provider and this application's
// registration with it.
//
// Provider-specific vocabulary (GitHub's and Facebook's "App ID" and
// "App Secret") maps onto ClientID and ClientSecret.
type ProviderConfig struct {
	Type ProviderType `json:"type"`

	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`

	// Endpoints override the preset of Type. For "oidc", DiscoveryURL may be
	// given instead of the three endpoints.
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	TokenURL         string `json:"tokenUrl,omitempty"`
	UserInfoURL      string `json:"userInfoUrl,omitempty"`
	DiscoveryURL     string `json:"discoveryUrl,omitempty"`

	CallbackPath   string   `json:"callbackPath,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`
	ScopeDelimiter string   `json:"scopeDelimiter,omitempty"`

	// Fields lists profile fields requested from the user info endpoint,
	// sent comma-joined in the FieldsParam query parameter.
	Fields      []string `json:"fields,omitempty"`
	FieldsParam string   `json:"fieldsParam,omitempty"`

	// SendSecretProof adds appsecret_proof to profile requests. Nil means
	// the preset decides.
	SendSecretProof *bool `json:"sendSecretProof,omitempty"`

	Claims ClaimsConfig `json:"claims"`
}

// ClaimsConfig names the profile fields that make up the normalized identity.
// Values are gjson paths, so "plan.name" reads a nested property.
type ClaimsConfig struct {
	Subject string   `json:"subject,omitempty"`
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

// HandshakeConfig configures the authorization-code handshake.
type HandshakeConfig struct {
	// StateKey is the master key from which state and session signing keys
	// are derived. At least 32 bytes.
	StateKey Secret `json:"stateKey"`

	StateTTL             Duration `json:"stateTtl,omitempty"`
	SessionTTL           Duration `json:"sessionTtl,omitempty"`
	BackchannelTimeout   Duration `json:"backchannelTimeout,omitempty"`
	MaxRetries           *int     `json:"maxRetries,omitempty"`
	RetryInitialInterval Duration `json:"retryInitialInterval,omitempty"`
}

// ReplayConfig configures single-use enforcement of state nonces.
type ReplayConfig struct {
	Store           ReplayStoreKind `json:"store,omitempty"`
	RedisAddr       string          `json:"redisAddr,omitempty"`
	RedisPassword   Secret          `json:"redisPassword,omitempty"`
	RedisDB         int             `json:"redisDb,omitempty"`
	KeyPrefix       string          `json:"keyPrefix,omitempty"`
	CleanupInterval Duration        `json:"cleanupInterval,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr                 = ":8080"
	DefaultStateTTL             = 15 * time.Minute
	DefaultSessionTTL           = 8 * time.Hour
	DefaultBackchannelTimeout   = 10 * time.Second
	DefaultMaxRetries           = 2
	DefaultRetryInitialInterval = 200 * time.Millisecond
	DefaultCleanupInterval      = time.Minute
	DefaultKeyPrefix            = "oauth-signin:nonce:"
	DefaultFieldsParam          = "fields"

	// MinStateKeyLength is the minimum master key size in bytes.
	MinStateKeyLength = 32
)

// Retries returns the configured retry count, or the default when unset.
func (h HandshakeConfig) Retries() int {
	if h.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *h.MaxRetries
}

// SecretProofEnabled reports whether appsecret_proof is sent.
func (p ProviderConfig) SecretProofEnabled() bool {
	return p.SendSecretProof != nil && *p.SendSecretProof
}
