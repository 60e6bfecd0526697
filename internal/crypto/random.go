package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NonceBytes is the amount of entropy in a generated token (256 bits).
const NonceBytes = 32

// GenerateSecureToken creates a cryptographically secure random token.
// Returns a base64 URL-encoded string suitable for use as OAuth state nonces.
func GenerateSecureToken() (string, error) {
	b := make([]byte, NonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
