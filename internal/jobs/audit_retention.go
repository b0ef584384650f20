package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AuditPurger deletes audit rows older than a cutoff. *repositories.AuditRepository satisfies it.
type AuditPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRetentionJob deletes audit logs older than audit.retention_days.
type AuditRetentionJob struct {
	ticker
	repo AuditPurger
	days int
	now  func() time.Time
}

// NewAuditRetentionJob creates an AuditRetentionJob. It is disabled when
// retentionDays or intervalHours is not positive.
func NewAuditRetentionJob(repo AuditPurger, retentionDays, intervalHours int) *AuditRetentionJob {
	interval := time.Duration(intervalHours) * time.Hour
	if retentionDays <= 0 {
		interval = 0
	}
	return &AuditRetentionJob{
		ticker: newTicker("audit_retention", interval),
		repo:   repo,
		days:   retentionDays,
		now:    time.Now,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (j *AuditRetentionJob) Start(ctx context.Context) {
	j.run(ctx, j.runOnce)
}

func (j *AuditRetentionJob) runOnce(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	n, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete audit logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		slog.Info("purged audit logs", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
