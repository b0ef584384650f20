package auth

import (
	"strings"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash %q is not bcrypt", hash)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Error("CheckPassword rejected the right password")
	}
	if CheckPassword(hash, "wrong horse") {
		t.Error("CheckPassword accepted the wrong password")
	}
}

func TestHashPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected error for short password")
	}
}

func TestGenerateTempPassword(t *testing.T) {
	a, err := GenerateTempPassword(4)
	if err != nil {
		t.Fatalf("GenerateTempPassword: %v", err)
	}
	if len(a) != MinPasswordLength {
		t.Errorf("len = %d, want %d", len(a), MinPasswordLength)
	}
	b, _ := GenerateTempPassword(16)
	if len(b) != 16 {
		t.Errorf("len = %d, want 16", len(b))
	}
	for _, r := range b {
		if !strings.ContainsRune(tempPasswordAlphabet, r) {
			t.Errorf("unexpected rune %q", r)
		}
	}
}
