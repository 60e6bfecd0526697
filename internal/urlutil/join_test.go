package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{
			name: "simple join",
			base: "https://example.com",
			path: "/signin-github",
			want: "https://example.com/signin-github",
		},
		{
			name: "base with trailing slash",
			base: "https://example.com/",
			path: "/signin-github",
			want: "https://example.com/signin-github",
		},
		{
			name: "base with path",
			base: "https://example.com/app",
			path: "/signin-github",
			want: "https://example.com/app/signin-github",
		},
		{
			name: "base with port",
			base: "http://localhost:8080",
			path: "/signin-oidc",
			want: "http://localhost:8080/signin-oidc",
		},
		{
			name: "trailing slash preserved",
			base: "https://example.com",
			path: "/callback/",
			want: "https://example.com/callback/",
		},
		{
			name: "query dropped",
			base: "https://example.com/?x=1",
			path: "/cb",
			want: "https://example.com/cb",
		},
		{
			name:    "invalid base",
			base:    "://bad",
			path:    "/cb",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripQuery(t *testing.T) {
	assert.Equal(t, "https://graph.facebook.com/me", StripQuery("https://graph.facebook.com/me?appsecret_proof=abc&fields=id"))
	assert.Equal(t, "https://example.com/a", StripQuery("https://example.com/a#frag"))
	assert.Equal(t, "https://example.com/a", StripQuery("https://example.com/a"))
	assert.Equal(t, "not a url", StripQuery("not a url?x"))
}
