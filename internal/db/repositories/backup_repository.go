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

const backupColumns = `id, file_name, storage_path, storage_backend, size_bytes, checksum, status, trigger,
	error, created_by, started_at, completed_at`

// BackupRepository tracks database backups held in object storage
type BackupRepository struct {
	db *sqlx.DB
}

// NewBackupRepository creates a new BackupRepository
func NewBackupRepository(db *sqlx.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// CreateBackup records a backup in the running state
func (r *BackupRepository) CreateBackup(ctx context.Context, b *models.Backup) error {
	b.ID = uuid.New().String()
	b.StartedAt = time.Now()
	b.Status = models.BackupRunning
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO backups (id, file_name, storage_path, storage_backend, size_bytes, status, trigger,
			created_by, started_at)
		VALUES (:id, :file_name, :storage_path, :storage_backend, :size_bytes, :status, :trigger,
			:created_by, :started_at)
	`, b)
	return err
}

// CompleteBackup marks a backup completed with its size and checksum
func (r *BackupRepository) CompleteBackup(ctx context.Context, id string, size int64, checksum string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE backups SET status = $2, size_bytes = $3, checksum = $4, completed_at = now() WHERE id = $1
	`, id, models.BackupCompleted, size, checksum)
	return err
}

// FailBackup marks a backup failed
func (r *BackupRepository) FailBackup(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	_, err := r.db.ExecContext(ctx, `
		UPDATE backups SET status = $2, error = $3, completed_at = now() WHERE id = $1
	`, id, models.BackupFailed, msg)
	return err
}

// ListRecent returns the n most recent backups
func (r *BackupRepository) ListRecent(ctx context.Context, n int) ([]*models.Backup, error) {
	out := make([]*models.Backup, 0)
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+backupColumns+` FROM backups ORDER BY started_at DESC LIMIT $1`, n)
	return out, err
}

// ListCompletedBeyond returns completed backups older than the newest keep, for pruning
func (r *BackupRepository) ListCompletedBeyond(ctx context.Context, keep int) ([]*models.Backup, error) {
	out := make([]*models.Backup, 0)
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+backupColumns+` FROM backups WHERE status = $1
		ORDER BY started_at DESC OFFSET $2
	`, models.BackupCompleted, keep)
	return out, err
}

// GetBackup retrieves a backup by ID
func (r *BackupRepository) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	b := &models.Backup{}
	err := r.db.GetContext(ctx, b, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// LastCompleted returns the newest completed backup
func (r *BackupRepository) LastCompleted(ctx context.Context) (*models.Backup, error) {
	b := &models.Backup{}
	err := r.db.GetContext(ctx, b, `
		SELECT `+backupColumns+` FROM backups WHERE status = $1 ORDER BY started_at DESC LIMIT 1
	`, models.BackupCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBackup removes the row
func (r *BackupRepository) DeleteBackup(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM backups WHERE id = $1`, id)
	return err
}

// CountCompleted counts completed backups
func (r *BackupRepository) CountCompleted(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM backups WHERE status = $1`, models.BackupCompleted)
	return n, err
}

// DatabaseSize returns pg_database_size for the current database
func (r *BackupRepository) DatabaseSize(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT pg_database_size(current_database())`)
	return n, err
}
