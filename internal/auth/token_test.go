package auth

import "testing"

func TestGenerateAccountToken(t *testing.T) {
	token, hash, err := GenerateAccountToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(token) != 43 {
		t.Errorf("token length = %d, want 43", len(token))
	}
	if hash != HashAccountToken(token) {
		t.Error("hash does not match HashAccountToken(token)")
	}
	if len(hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(hash))
	}

	other, _, err := GenerateAccountToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == token {
		t.Error("two tokens should differ")
	}
}
