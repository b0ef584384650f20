package jobs

import (
	"context"
	"log/slog"
	"time"
)

// RoleExpirer deactivates role assignments whose end date has passed.
// *services.RoleAssignmentService satisfies it.
type RoleExpirer interface {
	ExpireEnded(ctx context.Context) (int, error)
}

// RoleExpiryJob periodically expires ended role assignments so that read models and
// health checks stop counting them.
type RoleExpiryJob struct {
	ticker
	svc RoleExpirer
}

// NewRoleExpiryJob creates a RoleExpiryJob running every intervalMinutes.
func NewRoleExpiryJob(svc RoleExpirer, intervalMinutes int) *RoleExpiryJob {
	return &RoleExpiryJob{
		ticker: newTicker("role_expiry", time.Duration(intervalMinutes)*time.Minute),
		svc:    svc,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (j *RoleExpiryJob) Start(ctx context.Context) {
	j.run(ctx, j.runOnce)
}

func (j *RoleExpiryJob) runOnce(ctx context.Context) error {
	n, err := j.svc.ExpireEnded(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("expired ended role assignments", "count", n)
	}
	return nil
}
