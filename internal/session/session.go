// Package session issues the signed, expiring artifact handed to the browser
// once a handshake completes. There is no server-side session store and no
// refresh; an expired session means signing in again.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/oauth-signin/internal/crypto"
	"github.com/dgellow/oauth-signin/internal/profile"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 8 * time.Hour

// Verification failures.
var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionExpired = errors.New("session expired")
)

// Session is the identity carried by the session cookie.
type Session struct {
	Subject  string    `json:"sub"`
	Email    string    `json:"email,omitempty"`
	Name     string    `json:"name,omitempty"`
	Provider string    `json:"provider"`
	Expires  time.Time `json:"expires"`
}

// Manager signs and verifies sessions.
type Manager struct {
	signer crypto.TokenSigner
	now    func() time.Time
}

// NewManager creates a manager whose signing key is derived from masterKey,
// so it never matches the state signing key.
func NewManager(masterKey []byte, ttl time.Duration) (*Manager, error) {
	key, err := crypto.DeriveKey(masterKey, "session")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		signer: crypto.NewTokenSigner(key, ttl),
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of the manager reading time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	return &Manager{signer: m.signer.WithClock(now), now: now}
}

// TTL returns the session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.signer.TTL()
}

// Issue signs a session for p, authenticated by provider.
func (m *Manager) Issue(p *profile.UserProfile, provider string) (string, Session, error) {
	if p == nil || p.SubjectID == "" {
		return "", Session{}, errors.New("cannot issue a session without a subject")
	}

	now := m.now()
	s := Session{
		Subject:  p.SubjectID,
		Email:    p.Email,
		Name:     p.Name,
		Provider: provider,
		Expires:  now.Add(m.signer.TTL()).UTC(),
	}
	token, err := m.signer.SignAt(s, now)
	if err != nil {
		return "", Session{}, fmt.Errorf("signing session: %w", err)
	}
	return token, s, nil
}

// Verify returns the session in token.
func (m *Manager) Verify(token string) (Session, error) {
	var s Session
	_, err := m.signer.Verify(token, &s)
	switch {
	case err == nil:
	case errors.Is(err, crypto.ErrTokenExpired):
		return Session{}, ErrSessionExpired
	default:
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	if s.Subject == "" {
		return Session{}, fmt.Errorf("%w: no subject", ErrInvalidSession)
	}
	return s, nil
}
