package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgellow/oauth-signin/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ProviderConfig
		wantType string
		want     Endpoints
	}{
		{
			name: "github_preset",
			cfg: config.ProviderConfig{
				Type:         config.ProviderGitHub,
				ClientID:     "id",
				ClientSecret: "secret",
			},
			wantType: "github",
			want: Endpoints{
				AuthURL:     "https://github.com/login/oauth/authorize",
				TokenURL:    "https://github.com/login/oauth/access_token",
				UserInfoURL: "https://api.github.com/user",
			},
		},
		{
			name: "github_enterprise_override",
			cfg: config.ProviderConfig{
				Type:             config.ProviderGitHub,
				ClientID:         "id",
				ClientSecret:     "secret",
				AuthorizationURL: "https://ghe.example.com/login/oauth/authorize",
				TokenURL:         "https://ghe.example.com/login/oauth/access_token",
				UserInfoURL:      "https://ghe.example.com/api/v3/user",
			},
			wantType: "github",
			want: Endpoints{
				AuthURL:     "https://ghe.example.com/login/oauth/authorize",
				TokenURL:    "https://ghe.example.com/login/oauth/access_token",
				UserInfoURL: "https://ghe.example.com/api/v3/user",
			},
		},
		{
			name: "google_preset",
			cfg: config.ProviderConfig{
				Type:         config.ProviderGoogle,
				ClientID:     "id",
				ClientSecret: "secret",
			},
			wantType: "google",
			want:     Presets[config.ProviderGoogle],
		},
		{
			name: "plain_oauth2",
			cfg: config.ProviderConfig{
				Type:             config.ProviderOAuth2,
				ClientID:         "id",
				ClientSecret:     "secret",
				AuthorizationURL: "https://idp.example.com/authorize",
				TokenURL:         "https://idp.example.com/token",
				UserInfoURL:      "https://idp.example.com/me",
			},
			wantType: "oauth2",
			want: Endpoints{
				AuthURL:     "https://idp.example.com/authorize",
				TokenURL:    "https://idp.example.com/token",
				UserInfoURL: "https://idp.example.com/me",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewProvider(context.Background(), tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, client.Type())
			assert.Equal(t, tt.want, client.Endpoints())
		})
	}
}

func TestNewProvider_OIDCDiscovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(DiscoveryDocument{
			Issuer:                "https://idp.example.com",
			AuthorizationEndpoint: "https://idp.example.com/authorize",
			TokenEndpoint:         "https://idp.example.com/token",
			UserInfoEndpoint:      "https://idp.example.com/userinfo",
		})
	}))
	defer server.Close()

	client, err := NewProvider(context.Background(), config.ProviderConfig{
		Type:         config.ProviderOIDC,
		ClientID:     "id",
		ClientSecret: "secret",
		DiscoveryURL: server.URL + "/.well-known/openid-configuration",
		UserInfoURL:  "https://idp.example.com/custom-userinfo",
	}, WithDiscoveryCache(NewDiscoveryCache(nil, 0)))
	require.NoError(t, err)

	assert.Equal(t, "oidc", client.Type())
	assert.Equal(t, Endpoints{
		AuthURL:     "https://idp.example.com/authorize",
		TokenURL:    "https://idp.example.com/token",
		UserInfoURL: "https://idp.example.com/custom-userinfo",
	}, client.Endpoints())
}

func TestNewProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.ProviderConfig
		errMsg string
	}{
		{
			name:   "unknown_type",
			cfg:    config.ProviderConfig{Type: "myspace", ClientID: "id", ClientSecret: "secret"},
			errMsg: "unknown provider type",
		},
		{
			name:   "oauth2_without_endpoints",
			cfg:    config.ProviderConfig{Type: config.ProviderOAuth2, ClientID: "id", ClientSecret: "secret"},
			errMsg: "endpoints are required",
		},
		{
			name:   "missing_secret",
			cfg:    config.ProviderConfig{Type: config.ProviderGitHub, ClientID: "id"},
			errMsg: "client secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
