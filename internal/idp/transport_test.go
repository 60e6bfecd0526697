package idp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrustedRedirects(t *testing.T) {
	check := trustedRedirects([]string{"github.com", "api.github.com"})
	origin := httptest.NewRequest("GET", "https://api.github.com/user", nil)

	tests := []struct {
		name    string
		target  string
		via     int
		wantErr bool
	}{
		{"same_host", "https://api.github.com/user/1", 1, false},
		{"sibling_provider_host", "https://github.com/login", 1, false},
		{"foreign_host", "https://evil.example.com/", 1, true},
		{"scheme_downgrade", "http://api.github.com/user", 1, true},
		{"too_many_hops", "https://api.github.com/user", maxRedirects, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			via := make([]*http.Request, tt.via)
			for i := range via {
				via[i] = origin
			}
			err := check(httptest.NewRequest("GET", tt.target, nil), via)
			if tt.name == "too_many_hops" {
				assert.ErrorIs(t, err, ErrTooManyRedirects)
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(NewTransport(), 0, nil)
	assert.Equal(t, DefaultTimeout, client.Timeout)
	assert.NotNil(t, client.CheckRedirect)

	client = NewHTTPClient(NewTransport(), 3*time.Second, nil)
	assert.Equal(t, 3*time.Second, client.Timeout)
}

func TestHostsOf(t *testing.T) {
	hosts := hostsOf(
		"https://github.com/login/oauth/authorize",
		"https://github.com/login/oauth/access_token",
		"https://api.github.com/user",
		"not a url",
		"",
	)
	assert.Equal(t, []string{"github.com", "api.github.com"}, hosts)
}
