package idp

import (
	"net/http"
	"strings"

	"github.com/dgellow/oauth-signin/internal/urlutil"
	"golang.org/x/oauth2"
)

// AuthorizationRequest is the front-channel redirect to the provider.
type AuthorizationRequest struct {
	Endpoint    string
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
}

// AuthorizationRequest assembles the request for one attempt.
func (c *Client) AuthorizationRequest(redirectURI, state string) AuthorizationRequest {
	return AuthorizationRequest{
		Endpoint:    c.config.Endpoint.AuthURL,
		ClientID:    c.config.ClientID,
		RedirectURI: redirectURI,
		Scope:       strings.Join(c.config.Scopes, c.scopeDelimiter),
		State:       state,
	}
}

// URL renders the redirect URL with response_type=code, client_id,
// redirect_uri, scope and state, each query-encoded. Query parameters
// already present on the endpoint are kept. An empty scope is omitted.
func (r AuthorizationRequest) URL() string {
	cfg := oauth2.Config{
		ClientID:    r.ClientID,
		RedirectURL: r.RedirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: r.Endpoint},
	}
	var opts []oauth2.AuthCodeOption
	if r.Scope != "" {
		// Set directly so a non-space delimiter survives.
		opts = append(opts, oauth2.SetAuthURLParam("scope", r.Scope))
	}
	return cfg.AuthCodeURL(r.State, opts...)
}

// RedirectURI computes the callback URL the provider sends the user back to.
//
// With baseURL configured the result is baseURL joined with callbackPath.
// Otherwise it is derived from the request: https when the connection is TLS
// or X-Forwarded-Proto says so, then the request host.
func RedirectURI(r *http.Request, baseURL, callbackPath string) string {
	if baseURL != "" {
		if joined, err := urlutil.JoinPath(baseURL, callbackPath); err == nil {
			return joined
		}
		return strings.TrimSuffix(baseURL, "/") + callbackPath
	}

	scheme := "http"
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	if r.TLS != nil || strings.EqualFold(strings.TrimSpace(proto), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + callbackPath
}
