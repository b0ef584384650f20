package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TokenPurger deletes account tokens that expired before a cutoff.
// *repositories.AccountTokenRepository satisfies it.
type TokenPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenCleanupJob removes expired invitation and password reset tokens.
type TokenCleanupJob struct {
	ticker
	repo TokenPurger
	now  func() time.Time
}

// NewTokenCleanupJob creates a TokenCleanupJob. It is disabled when intervalHours is not positive.
func NewTokenCleanupJob(repo TokenPurger, intervalHours int) *TokenCleanupJob {
	return &TokenCleanupJob{
		ticker: newTicker("token_cleanup", time.Duration(intervalHours)*time.Hour),
		repo:   repo,
		now:    time.Now,
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (j *TokenCleanupJob) Start(ctx context.Context) {
	j.run(ctx, j.runOnce)
}

func (j *TokenCleanupJob) runOnce(ctx context.Context) error {
	n, err := j.repo.DeleteExpired(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("delete expired account tokens: %w", err)
	}
	if n > 0 {
		slog.Info("purged expired account tokens", "deleted", n)
	}
	return nil
}
