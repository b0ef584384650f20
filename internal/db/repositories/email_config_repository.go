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

const emailConfigColumns = `id, provider, smtp_host, smtp_port, encryption, from_email, from_name, username,
	password_encrypted, reply_to, is_active, test_status, last_tested, created_by, created_at, updated_at`

// EmailConfigRepository handles stored SMTP configurations
type EmailConfigRepository struct {
	db *sqlx.DB
}

// NewEmailConfigRepository creates a new EmailConfigRepository
func NewEmailConfigRepository(db *sqlx.DB) *EmailConfigRepository {
	return &EmailConfigRepository{db: db}
}

// GetActive returns the active configuration, or nil when none is saved
func (r *EmailConfigRepository) GetActive(ctx context.Context) (*models.EmailConfig, error) {
	cfg := &models.EmailConfig{}
	err := r.db.GetContext(ctx, cfg, `
		SELECT `+emailConfigColumns+` FROM email_configurations
		WHERE is_active ORDER BY created_at DESC LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Replace deactivates every active configuration and inserts cfg as the new active one, in one transaction
func (r *EmailConfigRepository) Replace(ctx context.Context, cfg *models.EmailConfig) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE email_configurations SET is_active = false, updated_at = now() WHERE is_active`); err != nil {
		return err
	}

	cfg.ID = uuid.New().String()
	cfg.CreatedAt = time.Now()
	cfg.UpdatedAt = cfg.CreatedAt
	cfg.IsActive = true
	if cfg.TestStatus == "" {
		cfg.TestStatus = models.EmailTestUntested
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO email_configurations (id, provider, smtp_host, smtp_port, encryption, from_email,
			from_name, username, password_encrypted, reply_to, is_active, test_status, created_by,
			created_at, updated_at)
		VALUES (:id, :provider, :smtp_host, :smtp_port, :encryption, :from_email,
			:from_name, :username, :password_encrypted, :reply_to, :is_active, :test_status, :created_by,
			:created_at, :updated_at)
	`, cfg); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordTest stores the outcome of a test send
func (r *EmailConfigRepository) RecordTest(ctx context.Context, id, status string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_configurations SET test_status = $2, last_tested = $3, updated_at = now() WHERE id = $1
	`, id, status, at)
	return err
}
