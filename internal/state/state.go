// Package state encodes the OAuth state parameter.
//
// A state token carries a random nonce, the URL to return to after sign-in,
// and the issuance time. It is HMAC-signed and round-trips through the user's
// browser, so nothing is stored server-side.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/oauth-signin/internal/autherr"
	"github.com/dgellow/oauth-signin/internal/crypto"
)

// DefaultTTL bounds how long a state token is accepted after issuance.
const DefaultTTL = 15 * time.Minute

// State is the correlation data of one authorization attempt.
type State struct {
	Nonce     string    `json:"nonce"`
	ReturnURL string    `json:"return_url"`
	IssuedAt  time.Time `json:"issued_at"`
}

// ExpiresAt returns when the state stops being accepted under ttl.
func (s State) ExpiresAt(ttl time.Duration) time.Time {
	return s.IssuedAt.Add(ttl)
}

// Codec signs and verifies state tokens. It is safe for concurrent use.
type Codec struct {
	signer crypto.TokenSigner
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec keyed by key. A non-positive ttl selects DefaultTTL.
func NewCodec(key []byte, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(key) == 0 {
		return nil, autherr.New(autherr.KindConfiguration, "state signing key is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Codec{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = crypto.NewTokenSigner(key, ttl).WithClock(c.now)
	return c, nil
}

// TTL returns the expiry window.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode creates a fresh state for returnURL and returns its token.
func (c *Codec) Encode(returnURL string) (string, State, error) {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", State{}, fmt.Errorf("generating state nonce: %w", err)
	}

	s := State{
		Nonce:     nonce,
		ReturnURL: returnURL,
		IssuedAt:  c.now().UTC(),
	}
	token, err := c.EncodeState(s)
	if err != nil {
		return "", State{}, err
	}
	return token, s, nil
}

// EncodeState signs an already populated State.
func (c *Codec) EncodeState(s State) (string, error) {
	if s.Nonce == "" {
		return "", errors.New("state nonce is empty")
	}
	token, err := c.signer.SignAt(s, s.IssuedAt)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return token, nil
}

// Decode verifies token and returns the embedded State.
//
// Failures are classified as InvalidState (integrity check failed),
// ExpiredState (older than the window) or MalformedState (unparseable).
func (c *Codec) Decode(token string) (State, error) {
	var s State
	_, err := c.signer.Verify(token, &s)
	switch {
	case err == nil:
	case errors.Is(err, crypto.ErrInvalidSignature):
		return State{}, autherr.Wrap(autherr.KindInvalidState, err, "state signature mismatch")
	case errors.Is(err, crypto.ErrTokenExpired):
		return State{}, autherr.Wrap(autherr.KindExpiredState, err,
			fmt.Sprintf("state issued at %s exceeds %s window", s.IssuedAt.Format(time.RFC3339), c.ttl))
	default:
		return State{}, autherr.Wrap(autherr.KindMalformedState, err, "state token cannot be parsed")
	}

	if s.Nonce == "" {
		return State{}, autherr.New(autherr.KindMalformedState, "state carries no nonce")
	}
	return s, nil
}
