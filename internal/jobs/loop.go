// Package jobs holds the periodic background jobs started by the API server: scheduled
// database backups, audit log retention, the expiry of ended role assignments and the
// removal of expired account tokens.
//
// Every job follows the same shape. Start blocks, runs one cycle immediately and then
// one per interval, and returns when the context is cancelled or Stop is called. A
// job whose interval is not positive is disabled and Start returns at once, so the
// router can start all of them unconditionally.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/safego"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// Job outcome labels for telemetry.JobRunsTotal.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
)

// ticker is the loop shared by the jobs.
type ticker struct {
	name     string
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

func newTicker(name string, interval time.Duration) ticker {
	return ticker{name: name, interval: interval, stopChan: make(chan struct{})}
}

// run calls cycle now and then on every tick until ctx is done or stop is closed.
func (t *ticker) run(ctx context.Context, cycle func(context.Context) error) {
	if t.interval <= 0 {
		slog.Info("background job disabled", "job", t.name)
		return
	}

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	slog.Info("background job started", "job", t.name, "interval", t.interval.String())
	t.once(ctx, cycle)

	for {
		select {
		case <-tk.C:
			t.once(ctx, cycle)
		case <-t.stopChan:
			slog.Info("background job stopped", "job", t.name)
			return
		case <-ctx.Done():
			slog.Info("background job context cancelled", "job", t.name)
			return
		}
	}
}

// once runs a single cycle, recovering panics so the loop survives a bad run.
func (t *ticker) once(ctx context.Context, cycle func(context.Context) error) {
	defer safego.Recover(t.name)
	start := time.Now()
	if err := cycle(ctx); err != nil {
		telemetry.JobRunsTotal.WithLabelValues(t.name, outcomeError).Inc()
		slog.Error("background job cycle failed", "job", t.name, "duration", time.Since(start).String(), "error", err)
		return
	}
	telemetry.JobRunsTotal.WithLabelValues(t.name, outcomeSuccess).Inc()
}

// Stop signals the loop to exit. It is safe to call more than once.
func (t *ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}
