package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/backup"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// BackupRunner is the part of backup.Service the scheduled job uses.
type BackupRunner interface {
	Run(ctx context.Context, trigger string, createdBy *string) (*models.Backup, error)
	Prune(ctx context.Context, keep int) (int, error)
}

// BackupJob takes a scheduled backup every backup.interval_hours and then prunes old
// archives down to backup.retention_count.
type BackupJob struct {
	ticker
	runner BackupRunner
	keep   int
}

// NewBackupJob creates a BackupJob. An interval of zero hours disables it.
func NewBackupJob(runner BackupRunner, cfg config.BackupConfig) *BackupJob {
	return &BackupJob{
		ticker: newTicker("backup", time.Duration(cfg.IntervalHours)*time.Hour),
		runner: runner,
		keep:   cfg.RetentionCount,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (j *BackupJob) Start(ctx context.Context) {
	j.run(ctx, j.runOnce)
}

func (j *BackupJob) runOnce(ctx context.Context) error {
	b, err := j.runner.Run(ctx, backup.TriggerScheduled, nil)
	if err != nil {
		return fmt.Errorf("scheduled backup: %w", err)
	}
	slog.Info("scheduled backup completed", "backup_id", b.ID, "file", b.FileName, "size_bytes", b.SizeBytes)

	if j.keep <= 0 {
		return nil
	}
	removed, err := j.runner.Prune(ctx, j.keep)
	if err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}
	if removed > 0 {
		slog.Info("pruned old backups", "removed", removed, "kept", j.keep)
	}
	return nil
}
