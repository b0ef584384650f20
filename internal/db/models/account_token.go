package models

import "time"

// Account token purposes.
const (
	TokenInvite        = "INVITE"
	TokenPasswordReset = "PASSWORD_RESET"
)

// AccountToken is a single-use invitation or password reset token. Only its hash is stored.
type AccountToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Purpose   string     `db:"purpose" json:"purpose"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// Expired reports whether the token is past its expiry at now.
func (t *AccountToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
