package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/log"
)

// SupportedVersion is the config schema version this build reads.
const SupportedVersion = "v1"

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a config document.
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != SupportedVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyDefaults fills unset values from the provider preset and the package
// defaults. Explicit values always win.
func ApplyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = DefaultAddr
	}

	p := &config.Provider
	if preset, ok := presets[p.Type]; ok {
		if p.CallbackPath == "" {
			p.CallbackPath = preset.callbackPath
		}
		if len(p.Scopes) == 0 {
			p.Scopes = slices.Clone(preset.scopes)
		}
		if p.ScopeDelimiter == "" {
			p.ScopeDelimiter = preset.scopeDelimiter
		}
		if len(p.Fields) == 0 {
			p.Fields = slices.Clone(preset.fields)
		}
		if p.SendSecretProof == nil {
			proof := preset.sendSecretProof
			p.SendSecretProof = &proof
		}
		if p.Claims.Subject == "" {
			p.Claims.Subject = preset.claims.Subject
		}
		if p.Claims.Email == "" {
			p.Claims.Email = preset.claims.Email
		}
		if p.Claims.Name == "" {
			p.Claims.Name = preset.claims.Name
		}
	}
	if p.ScopeDelimiter == "" {
		p.ScopeDelimiter = " "
	}
	if p.FieldsParam == "" {
		p.FieldsParam = DefaultFieldsParam
	}

	h := &config.Handshake
	if h.StateTTL == 0 {
		h.StateTTL = Duration(DefaultStateTTL)
	}
	if h.SessionTTL == 0 {
		h.SessionTTL = Duration(DefaultSessionTTL)
	}
	if h.BackchannelTimeout == 0 {
		h.BackchannelTimeout = Duration(DefaultBackchannelTimeout)
	}
	if h.RetryInitialInterval == 0 {
		h.RetryInitialInterval = Duration(DefaultRetryInitialInterval)
	}

	r := &config.Replay
	if r.Store == "" {
		r.Store = ReplayStoreMemory
	}
	if r.KeyPrefix == "" {
		r.KeyPrefix = DefaultKeyPrefix
	}
	if r.CleanupInterval == 0 {
		r.CleanupInterval = Duration(DefaultCleanupInterval)
	}
}

func configError(format string, args ...any) error {
	return autherr.Newf(autherr.KindConfiguration, format, args...)
}

// ValidateConfig validates the resolved configuration. Every failure is a
// ConfigurationError; these are only ever raised at startup.
func ValidateConfig(config *Config) error {
	if err := validateProvider(&config.Provider); err != nil {
		return err
	}

	if config.Server.BaseURL != "" {
		u, err := url.Parse(config.Server.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return configError("server.baseURL must be an absolute URL")
		}
		if u.Scheme != "https" {
			log.LogWarnWithFields("config", "server.baseURL is not https; cookies and redirects are exposed", map[string]any{
				"baseURL": config.Server.BaseURL,
			})
		}
	}

	h := config.Handshake
	if len(h.StateKey) < MinStateKeyLength {
		return configError("handshake.stateKey must be at least %d bytes", MinStateKeyLength)
	}
	if h.StateTTL < 0 || h.SessionTTL < 0 || h.BackchannelTimeout < 0 || h.RetryInitialInterval < 0 {
		return configError("handshake durations cannot be negative")
	}
	if h.Retries() < 0 {
		return configError("handshake.maxRetries cannot be negative")
	}
	if h.Retries() > 5 {
		log.LogWarnWithFields("config", "handshake.maxRetries is high; a consumed code cannot be exchanged twice", map[string]any{
			"maxRetries": h.Retries(),
		})
	}

	switch config.Replay.Store {
	case ReplayStoreNone, ReplayStoreMemory:
	case ReplayStoreRedis:
		if config.Replay.RedisAddr == "" {
			return configError("replay.redisAddr is required for redis store")
		}
	default:
		return configError("unknown replay.store: %s", config.Replay.Store)
	}
	if config.Replay.CleanupInterval < 0 {
		return configError("replay.cleanupInterval cannot be negative")
	}

	return nil
}

func validateProvider(p *ProviderConfig) error {
	if strings.TrimSpace(p.ClientID) == "" {
		return configError("provider.clientId is required")
	}
	if strings.TrimSpace(string(p.ClientSecret)) == "" {
		return configError("provider.clientSecret is required")
	}

	switch p.Type {
	case ProviderGitHub, ProviderGoogle, ProviderFacebook:
	case ProviderOIDC:
		if p.DiscoveryURL == "" && (p.AuthorizationURL == "" || p.TokenURL == "" || p.UserInfoURL == "") {
			return configError("provider: either discoveryUrl or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
		}
	case ProviderOAuth2:
		if p.AuthorizationURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
			return configError("provider: authorizationUrl, tokenUrl and userInfoUrl are required for oauth2")
		}
	case "":
		return configError("provider.type is required")
	default:
		return configError("unknown provider type: %s", p.Type)
	}

	for name, endpoint := range map[string]string{
		"authorizationUrl": p.AuthorizationURL,
		"tokenUrl":         p.TokenURL,
		"userInfoUrl":      p.UserInfoURL,
		"discoveryUrl":     p.DiscoveryURL,
	} {
		if endpoint == "" {
			continue
		}
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return configError("provider.%s must be an absolute http(s) URL", name)
		}
	}

	if err := ValidateCallbackPath(p.CallbackPath); err != nil {
		return err
	}
	if p.Claims.Subject == "" {
		return configError("provider.claims.subject is required")
	}
	return nil
}

// Routes served next to the callback.
const (
	LoginPath   = "/login"
	MePath      = "/me"
	LogoutPath  = "/logout"
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// ReservedPaths cannot be used as the callback path.
var ReservedPaths = []string{"/", LoginPath, MePath, LogoutPath, HealthPath, MetricsPath}

// ValidateCallbackPath checks that path is a clean relative path such as
// "/signin-github" that can be routed next to ReservedPaths.
func ValidateCallbackPath(path string) error {
	if path == "" {
		return configError("provider.callbackPath is required")
	}
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return configError("provider.callbackPath must be a relative path starting with a single '/'")
	}
	u, err := url.Parse(path)
	if err != nil {
		return configError("provider.callbackPath is not a valid path: %v", err)
	}
	if u.Scheme != "" || u.Host != "" || u.RawQuery != "" || u.Fragment != "" {
		return configError("provider.callbackPath must not contain a scheme, host, query or fragment")
	}
	if slices.Contains(strings.Split(path, "/"), "..") {
		return configError("provider.callbackPath must not contain '..'")
	}
	if strings.ContainsAny(path, "{} \t") {
		return configError("provider.callbackPath must not contain braces or whitespace")
	}
	trimmed := strings.TrimSuffix(path, "/")
	for _, reserved := range ReservedPaths {
		if path == reserved || (trimmed != "" && trimmed == reserved) {
			return configError("provider.callbackPath %q is reserved", path)
		}
	}
	return nil
}
