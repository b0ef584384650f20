package crypto

import (
	"bytes"
	"strings"
	"testing"
)

// testKey returns a valid 32-byte key for use in tests.
func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestNewTokenCipher_KeyLength(t *testing.T) {
	if _, err := NewTokenCipher(testKey()); err != nil {
		t.Fatalf("NewTokenCipher() unexpected error: %v", err)
	}
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewTokenCipher(make([]byte, n)); err != ErrKeyLengthInvalid {
			t.Errorf("NewTokenCipher(len=%d) error = %v, want %v", n, err, ErrKeyLengthInvalid)
		}
	}
}

func TestNewTokenCipher_IsolatesKey(t *testing.T) {
	key := testKey()
	tc, err := NewTokenCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := tc.Seal("smtp-app-password")
	for i := range key {
		key[i] = 0
	}
	if got, err := tc.Open(sealed); err != nil || got != "smtp-app-password" {
		t.Errorf("Open() after mutating the caller's key = %q, %v", got, err)
	}
}

func TestDeriveTokenCipher(t *testing.T) {
	salt := bytes.Repeat([]byte("s"), 16)
	if _, err := DeriveTokenCipher("pass", salt[:8], 0); err != ErrSaltTooShort {
		t.Errorf("short salt error = %v, want %v", err, ErrSaltTooShort)
	}

	a, err := DeriveTokenCipher("pass", salt, 10000)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DeriveTokenCipher("pass", salt, 10000)
	sealed, _ := a.Seal("x")
	if got, err := b.Open(sealed); err != nil || got != "x" {
		t.Errorf("same passphrase and salt should derive the same key: %q, %v", got, err)
	}
}

func TestFromPassphrase(t *testing.T) {
	if _, err := FromPassphrase("short"); err != ErrPassphraseTooShort {
		t.Errorf("error = %v, want %v", err, ErrPassphraseTooShort)
	}

	key := strings.Repeat("e", MinPassphraseLength)
	first, err := FromPassphrase(key)
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := first.Seal("gmail-app-password")

	// a restarted server derives the same key from config
	second, _ := FromPassphrase(key)
	if got, err := second.Open(sealed); err != nil || got != "gmail-app-password" {
		t.Errorf("Open() = %q, %v", got, err)
	}
}

func TestSealAndOpen(t *testing.T) {
	tc, _ := NewTokenCipher(testKey())
	for _, pt := range []string{"a", "p@ss w0rd!", strings.Repeat("long", 500), "ünïcødé"} {
		sealed, err := tc.Seal(pt)
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		if sealed == pt {
			t.Error("Seal() returned the plaintext")
		}
		got, err := tc.Open(sealed)
		if err != nil || got != pt {
			t.Errorf("Open(Seal(%q)) = %q, %v", pt, got, err)
		}
	}
}

func TestSealEmptyString(t *testing.T) {
	tc, _ := NewTokenCipher(testKey())
	if s, err := tc.Seal(""); s != "" || err != nil {
		t.Errorf("Seal(\"\") = %q, %v", s, err)
	}
	if s, err := tc.Open(""); s != "" || err != nil {
		t.Errorf("Open(\"\") = %q, %v", s, err)
	}
}

func TestSealNonDeterministic(t *testing.T) {
	tc, _ := NewTokenCipher(testKey())
	s1, _ := tc.Seal("same")
	s2, _ := tc.Seal("same")
	if s1 == s2 {
		t.Error("Seal() produced identical ciphertexts; nonce is not random")
	}
}

func TestOpenErrors(t *testing.T) {
	tc, _ := NewTokenCipher(testKey())
	tests := []struct {
		name       string
		ciphertext string
		wantErr    error
	}{
		{"not base64", "!!!not-base64!!!", ErrCiphertextCorrupted},
		{"shorter than nonce", "YQ==", ErrCiphertextCorrupted},
		{"garbage", "dGhpcyBpcyBub3QgYSB2YWxpZCBjaXBoZXJ0ZXh0", ErrDecryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tc.Open(tt.ciphertext); err != tt.wantErr {
				t.Errorf("Open(%q) error = %v, want %v", tt.ciphertext, err, tt.wantErr)
			}
		})
	}
}

func TestOpenWrongKey(t *testing.T) {
	tc1, _ := NewTokenCipher(bytes.Repeat([]byte("a"), 32))
	tc2, _ := NewTokenCipher(bytes.Repeat([]byte("b"), 32))
	sealed, _ := tc1.Seal("secret-data")
	if _, err := tc2.Open(sealed); err != ErrDecryptionFailed {
		t.Errorf("Open() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil || len(key) != 32 {
		t.Fatalf("GenerateKey() = %d bytes, %v", len(key), err)
	}
	key2, _ := GenerateKey()
	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() produced identical keys on consecutive calls")
	}
}
