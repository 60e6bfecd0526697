package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verification failures. Callers map these onto their own error kinds.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrTokenExpired     = errors.New("token expired")
)

// TokenSigner provides HMAC-signed JSON tokens with optional expiry.
//
// Token layout: base64url(json(TokenData)) "." hex(HMAC-SHA256).
// The MAC covers the encoded segment, so a flipped byte anywhere fails as
// ErrInvalidSignature before anything is decoded.
type TokenSigner struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenSigner creates a new token signer. A zero ttl disables expiry.
func NewTokenSigner(signingKey []byte, ttl time.Duration) TokenSigner {
	return TokenSigner{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

// WithClock returns a copy of the signer that reads time from now.
func (ts TokenSigner) WithClock(now func() time.Time) TokenSigner {
	ts.now = now
	return ts
}

// TTL returns the configured lifetime.
func (ts TokenSigner) TTL() time.Duration {
	return ts.ttl
}

// TokenData wraps user data with metadata
type TokenData struct {
	Data      json.RawMessage `json:"data"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at,omitzero"`
}

// Sign marshals data to JSON, signs it with HMAC, and returns the token
func (ts TokenSigner) Sign(v any) (string, error) {
	return ts.SignAt(v, ts.now())
}

// SignAt is Sign with an explicit issuance time.
func (ts TokenSigner) SignAt(v any, issuedAt time.Time) (string, error) {
	userData, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal data: %w", err)
	}

	tokenData := TokenData{
		Data:     userData,
		IssuedAt: issuedAt.UTC(),
	}
	if ts.ttl > 0 {
		tokenData.ExpiresAt = tokenData.IssuedAt.Add(ts.ttl)
	}

	jsonData, err := json.Marshal(tokenData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token data: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(jsonData)
	return payload + "." + SignData(payload, ts.signingKey), nil
}

// Verify validates the signature, checks expiry, and unmarshals the data.
// The returned TokenData is populated even when the error is ErrTokenExpired.
func (ts TokenSigner) Verify(token string, v any) (TokenData, error) {
	var tokenData TokenData

	payload, signature, ok := strings.Cut(token, ".")
	if !ok || payload == "" || signature == "" || strings.Contains(signature, ".") {
		return tokenData, fmt.Errorf("%w: expected two dot-separated segments", ErrMalformedToken)
	}

	if !ValidateSignedData(payload, signature, ts.signingKey) {
		return tokenData, ErrInvalidSignature
	}

	jsonData, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return tokenData, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if err := json.Unmarshal(jsonData, &tokenData); err != nil {
		return tokenData, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if err := json.Unmarshal(tokenData.Data, v); err != nil {
		return tokenData, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if ts.ttl > 0 && ts.now().Sub(tokenData.IssuedAt) > ts.ttl {
		return tokenData, ErrTokenExpired
	}
	if !tokenData.ExpiresAt.IsZero() && ts.now().After(tokenData.ExpiresAt) {
		return tokenData, ErrTokenExpired
	}

	return tokenData, nil
}
