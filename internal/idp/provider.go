// Package idp talks to the identity provider: it builds the front-channel
// authorization redirect and performs the two backchannel calls, code
// exchange and profile fetch.
//
// Both backchannel calls are single-shot. Retry policy belongs to the caller.
package idp

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/oauth2"
)

// UserAgent is sent on profile requests. GitHub rejects requests without one.
const UserAgent = "oauth-signin"

// Endpoints are the three provider URLs a handshake needs.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// ProviderType is only used for logs and metrics labels.
	ProviderType string

	Endpoints    Endpoints
	ClientID     string
	ClientSecret string

	Scopes []string
	// ScopeDelimiter joins Scopes; defaults to a single space.
	ScopeDelimiter string

	// Fields are requested from the profile endpoint as one comma-joined
	// FieldsParam query parameter.
	Fields      []string
	FieldsParam string

	// SendSecretProof adds appsecret_proof to profile requests.
	SendSecretProof bool

	// HTTPClient carries both backchannel calls. Defaults to a client over
	// NewTransport that only follows redirects to the endpoints' hosts.
	HTTPClient *http.Client
}

// Client is a configured provider. It is read-only after construction and
// safe for concurrent use.
type Client struct {
	providerType   string
	config         oauth2.Config
	userInfoURL    string
	scopeDelimiter string
	fields         []string
	fieldsParam    string
	secretProof    bool
	httpClient     *http.Client
}

// NewClient validates cfg and creates a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("client secret is required")
	}
	e := cfg.Endpoints
	if e.AuthURL == "" || e.TokenURL == "" || e.UserInfoURL == "" {
		return nil, errors.New("authorization, token and user info endpoints are required")
	}

	delimiter := cfg.ScopeDelimiter
	if delimiter == "" {
		delimiter = " "
	}
	fieldsParam := cfg.FieldsParam
	if fieldsParam == "" {
		fieldsParam = "fields"
	}
	providerType := cfg.ProviderType
	if providerType == "" {
		providerType = "oauth2"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(NewTransport(), DefaultTimeout, hostsOf(e.TokenURL, e.UserInfoURL))
	}

	return &Client{
		providerType: providerType,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       slices.Clone(cfg.Scopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  e.AuthURL,
				TokenURL: e.TokenURL,
				// client_id and client_secret travel in the form body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL:    e.UserInfoURL,
		scopeDelimiter: delimiter,
		fields:         slices.Clone(cfg.Fields),
		fieldsParam:    fieldsParam,
		secretProof:    cfg.SendSecretProof,
		httpClient:     httpClient,
	}, nil
}

// Type returns the provider type identifier.
func (c *Client) Type() string {
	return c.providerType
}

// Endpoints returns the configured provider URLs.
func (c *Client) Endpoints() Endpoints {
	return Endpoints{
		AuthURL:     c.config.Endpoint.AuthURL,
		TokenURL:    c.config.Endpoint.TokenURL,
		UserInfoURL: c.userInfoURL,
	}
}
