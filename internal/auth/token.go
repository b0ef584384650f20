package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// accountTokenLength is the length of the random part of an account token in bytes
const accountTokenLength = 32

// GenerateAccountToken creates a single-use invitation or reset token.
// Returns: token (to send once), SHA-256 hash (to store)
func GenerateAccountToken() (token string, hash string, err error) {
	b := make([]byte, accountTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashAccountToken(token), nil
}

// HashAccountToken returns the stored form of token. Tokens are looked up by hash, so a
// salted hash cannot be used here.
func HashAccountToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
