package idp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/crypto"
	"golang.org/x/oauth2"
)

// maxProfileBytes caps a profile response.
const maxProfileBytes = 1 << 20

// FetchProfile GETs the user info endpoint with accessToken as a bearer
// credential and returns the raw response body.
//
// When secret proof is enabled the request carries appsecret_proof; when
// fields are configured it carries them comma-joined. A non-200 response
// fails with ProfileFetchRejected, a transport fault with NetworkFailure.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) ([]byte, error) {
	if accessToken == "" {
		return nil, autherr.New(autherr.KindProfileRejected, "access token is empty")
	}

	u, err := c.profileURL(accessToken)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindConfiguration, err, "invalid user info endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.bearerClient(accessToken).Do(req)
	if err != nil {
		return nil, classifyTransportError(autherr.KindProfileRejected, "profile fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &autherr.Error{
			Kind:       autherr.KindProfileRejected,
			StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("user info endpoint returned status %d: %s",
				resp.StatusCode, readErrorBody(resp.Body)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes+1))
	if err != nil {
		return nil, classifyTransportError(autherr.KindProfileRejected, "reading profile", err)
	}
	if len(body) > maxProfileBytes {
		return nil, autherr.Newf(autherr.KindProfileRejected, "profile too large: exceeds %d bytes", maxProfileBytes)
	}
	return body, nil
}

func (c *Client) profileURL(accessToken string) (string, error) {
	u, err := url.Parse(c.userInfoURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if c.secretProof {
		q.Set("appsecret_proof", crypto.SecretProof(accessToken, c.config.ClientSecret))
	}
	if len(c.fields) > 0 {
		q.Set(c.fieldsParam, strings.Join(c.fields, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// bearerClient wraps the shared transport so every request, redirects
// included, carries the access token. The redirect policy and timeout of the
// shared client are kept.
func (c *Client) bearerClient(accessToken string) *http.Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: accessToken,
				TokenType:   "Bearer",
			}),
			Base: base,
		},
		CheckRedirect: c.httpClient.CheckRedirect,
		Timeout:       c.httpClient.Timeout,
	}
}
