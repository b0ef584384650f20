package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

func TestIssueToken_ReplacesUnused(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountTokenRepository(db)
	expires := time.Now().Add(time.Hour)

	mock.ExpectExec(`DELETE FROM account_tokens WHERE user_id = \$1 AND purpose = \$2 AND used_at IS NULL`).
		WithArgs("user-1", models.TokenPasswordReset).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO account_tokens").
		WithArgs(sqlmock.AnyArg(), "user-1", models.TokenPasswordReset, "hash", expires, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tok := &models.AccountToken{UserID: "user-1", Purpose: models.TokenPasswordReset, TokenHash: "hash", ExpiresAt: expires}
	if err := repo.IssueToken(context.Background(), tok); err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tok.ID == "" {
		t.Error("IssueToken did not assign an ID")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFindUnused_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountTokenRepository(db)
	mock.ExpectQuery(`FROM account_tokens WHERE token_hash = \$1 AND purpose = \$2 AND used_at IS NULL`).
		WithArgs("hash", models.TokenInvite).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "purpose", "token_hash", "expires_at", "used_at", "created_at"}))

	tok, err := repo.FindUnused(context.Background(), "hash", models.TokenInvite)
	if err != nil || tok != nil {
		t.Errorf("FindUnused = %v, %v; want nil, nil", tok, err)
	}
}

func TestConsume_OnlyOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountTokenRepository(db)
	mock.ExpectExec(`UPDATE account_tokens SET used_at = now\(\) WHERE id = \$1 AND used_at IS NULL`).
		WithArgs("tok-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE account_tokens SET used_at`).
		WithArgs("tok-1").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.Consume(context.Background(), db, "tok-1")
	if err != nil || !first {
		t.Fatalf("first Consume = %v, %v", first, err)
	}
	second, err := repo.Consume(context.Background(), db, "tok-1")
	if err != nil || second {
		t.Errorf("second Consume = %v, %v; want false", second, err)
	}
}

func TestDeleteExpired(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountTokenRepository(db)
	cutoff := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM account_tokens WHERE expires_at < \$1`).
		WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpired(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Errorf("DeleteExpired = %d, %v", n, err)
	}
}
