package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SignData returns the hex-encoded HMAC-SHA256 of data keyed by key.
func SignData(data string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignedData reports whether signature is exactly SignData(data, key).
// Only the lowercase hex form verifies. The comparison is constant time.
func ValidateSignedData(data, signature string, key []byte) bool {
	return hmac.Equal([]byte(signature), []byte(SignData(data, key)))
}

// SecretProof computes the appsecret_proof sent with profile requests:
// hex(HMAC-SHA256(key=clientSecret, msg=accessToken)).
func SecretProof(accessToken, clientSecret string) string {
	return SignData(accessToken, []byte(clientSecret))
}

// DeriveKey expands master into a 32-byte key bound to purpose, so that state
// tokens and session tokens never share a MAC key.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("master key is empty")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, nil, []byte("oauth-signin/"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}
