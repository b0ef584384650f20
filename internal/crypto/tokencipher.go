// Package crypto provides AES-256-GCM encryption for secrets that must be stored in the
// database and read back in clear, such as the SMTP password of the email configuration.
// A one-way hash cannot be used there because the password is needed to log in to the mail
// server. GCM authenticates the ciphertext, so a tampered value fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext is not valid base64 or is too short.
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when authentication fails: tampering or a wrong key.
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrSaltTooShort is returned for salts under 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
	// ErrPassphraseTooShort is returned when a configured encryption key is under MinPassphraseLength.
	ErrPassphraseTooShort = errors.New("crypto: encryption key must be at least 32 characters")
)

// MinPassphraseLength is the shortest accepted email.encryption_key
const MinPassphraseLength = 32

// secretSalt is the fixed salt for keys derived from configuration. The passphrase itself
// carries the entropy; the salt only separates this use from others of the same secret.
var secretSalt = []byte("ldc-tools/secret-at-rest/v1")

// TokenCipher encrypts and decrypts secrets
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher with a 32-byte master key
func NewTokenCipher(masterKey []byte) (*TokenCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// DeriveTokenCipher creates a cipher by deriving a key from a passphrase with PBKDF2-SHA256
func DeriveTokenCipher(passphrase string, salt []byte, iterations int) (*TokenCipher, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < 10000 {
		iterations = 100000
	}
	return NewTokenCipher(pbkdf2.Key([]byte(passphrase), salt, iterations, 32, sha256.New))
}

// FromPassphrase creates the cipher for a configured encryption key such as
// email.encryption_key.
func FromPassphrase(passphrase string) (*TokenCipher, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooShort
	}
	return DeriveTokenCipher(passphrase, secretSalt, 100000)
}

// Seal encrypts plaintext and returns nonce||ciphertext as URL-safe base64.
// The empty string seals to the empty string.
func (tc *TokenCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, tc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := tc.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func (tc *TokenCipher) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}
	n := tc.aead.NonceSize()
	if len(raw) < n {
		return "", ErrCiphertextCorrupted
	}
	plaintext, err := tc.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey creates a random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
