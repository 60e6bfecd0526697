package idp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/oauth-signin/internal/config"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Presets holds the endpoints of the well-known providers.
var Presets = map[config.ProviderType]Endpoints{
	config.ProviderGitHub: {
		AuthURL:     github.Endpoint.AuthURL,
		TokenURL:    github.Endpoint.TokenURL,
		UserInfoURL: "https://api.github.com/user",
	},
	config.ProviderGoogle: {
		AuthURL:     google.Endpoint.AuthURL,
		TokenURL:    google.Endpoint.TokenURL,
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	},
	config.ProviderFacebook: {
		AuthURL:     facebook.Endpoint.AuthURL,
		TokenURL:    facebook.Endpoint.TokenURL,
		UserInfoURL: "https://graph.facebook.com/me",
	},
}

// Option configures NewProvider.
type Option func(*providerOptions)

type providerOptions struct {
	timeout   time.Duration
	transport http.RoundTripper
	discovery *DiscoveryCache
}

// WithTimeout bounds each backchannel call.
func WithTimeout(d time.Duration) Option {
	return func(o *providerOptions) { o.timeout = d }
}

// WithTransport replaces the shared connection pool.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *providerOptions) { o.transport = rt }
}

// WithDiscoveryCache sets the cache used for OIDC discovery.
func WithDiscoveryCache(c *DiscoveryCache) Option {
	return func(o *providerOptions) { o.discovery = c }
}

// NewProvider creates a Client from the provider configuration. Explicit
// endpoints in cfg override the preset of cfg.Type; for "oidc" without
// explicit endpoints they come from the discovery document.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, opts ...Option) (*Client, error) {
	o := providerOptions{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.transport == nil {
		o.transport = NewTransport()
	}

	endpoints, err := resolveEndpoints(ctx, cfg, &o)
	if err != nil {
		return nil, err
	}

	hosts := hostsOf(endpoints.AuthURL, endpoints.TokenURL, endpoints.UserInfoURL)
	return NewClient(ClientConfig{
		ProviderType:    string(cfg.Type),
		Endpoints:       endpoints,
		ClientID:        cfg.ClientID,
		ClientSecret:    string(cfg.ClientSecret),
		Scopes:          cfg.Scopes,
		ScopeDelimiter:  cfg.ScopeDelimiter,
		Fields:          cfg.Fields,
		FieldsParam:     cfg.FieldsParam,
		SendSecretProof: cfg.SecretProofEnabled(),
		HTTPClient:      NewHTTPClient(o.transport, o.timeout, hosts),
	})
}

func resolveEndpoints(ctx context.Context, cfg config.ProviderConfig, o *providerOptions) (Endpoints, error) {
	var e Endpoints
	switch cfg.Type {
	case config.ProviderGitHub, config.ProviderGoogle, config.ProviderFacebook:
		e = Presets[cfg.Type]
	case config.ProviderOIDC:
		if cfg.DiscoveryURL != "" && (cfg.AuthorizationURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "") {
			if o.discovery == nil {
				o.discovery = NewDiscoveryCache(&http.Client{Transport: o.transport, Timeout: o.timeout}, 0)
			}
			doc, err := o.discovery.Get(ctx, cfg.DiscoveryURL)
			if err != nil {
				return Endpoints{}, fmt.Errorf("failed to fetch OIDC discovery: %w", err)
			}
			e = doc.Endpoints()
		}
	case config.ProviderOAuth2:
	default:
		return Endpoints{}, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}

	if cfg.AuthorizationURL != "" {
		e.AuthURL = cfg.AuthorizationURL
	}
	if cfg.TokenURL != "" {
		e.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		e.UserInfoURL = cfg.UserInfoURL
	}
	return e, nil
}
