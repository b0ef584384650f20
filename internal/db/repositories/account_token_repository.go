package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// AccountTokenRepository stores invitation and password reset tokens
type AccountTokenRepository struct {
	db *sqlx.DB
}

// NewAccountTokenRepository creates a new AccountTokenRepository
func NewAccountTokenRepository(db *sqlx.DB) *AccountTokenRepository {
	return &AccountTokenRepository{db: db}
}

// IssueToken replaces any unused token of the same purpose for the user with t
func (r *AccountTokenRepository) IssueToken(ctx context.Context, t *models.AccountToken) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now()
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM account_tokens WHERE user_id = $1 AND purpose = $2 AND used_at IS NULL`,
		t.UserID, t.Purpose); err != nil {
		return err
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO account_tokens (id, user_id, purpose, token_hash, expires_at, created_at)
		VALUES (:id, :user_id, :purpose, :token_hash, :expires_at, :created_at)
	`, t)
	return err
}

// FindUnused returns the unused token with hash and purpose, or nil. Expiry is left to the caller.
func (r *AccountTokenRepository) FindUnused(ctx context.Context, hash, purpose string) (*models.AccountToken, error) {
	t := &models.AccountToken{}
	err := r.db.GetContext(ctx, t, `
		SELECT id, user_id, purpose, token_hash, expires_at, used_at, created_at
		FROM account_tokens WHERE token_hash = $1 AND purpose = $2 AND used_at IS NULL`, hash, purpose)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Consume marks the token used in ext, reporting false when it was already used
func (r *AccountTokenRepository) Consume(ctx context.Context, ext sqlx.ExtContext, id string) (bool, error) {
	res, err := ext.ExecContext(ctx,
		`UPDATE account_tokens SET used_at = now() WHERE id = $1 AND used_at IS NULL`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteExpired removes tokens that expired before cutoff
func (r *AccountTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM account_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
