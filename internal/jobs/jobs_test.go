package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/backup"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// startAndWait runs start on a goroutine and waits for it to return.
func startAndWait(t *testing.T, start func(), within time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		start()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(within):
		t.Fatal("Start did not return in time")
	}
}

// ---------------------------------------------------------------------------
// BackupJob
// ---------------------------------------------------------------------------

type fakeRunner struct {
	mu       sync.Mutex
	runs     []string
	pruned   []int
	runErr   error
	ran      chan struct{}
	pruneErr error
}

func (f *fakeRunner) Run(_ context.Context, trigger string, createdBy *string) (*models.Backup, error) {
	f.mu.Lock()
	f.runs = append(f.runs, trigger)
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &models.Backup{ID: "b-1", FileName: "backup.sql.gz"}, nil
}

func (f *fakeRunner) Prune(_ context.Context, keep int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, keep)
	return 2, f.pruneErr
}

func TestBackupJob_DisabledReturnsImmediately(t *testing.T) {
	r := &fakeRunner{}
	j := NewBackupJob(r, config.BackupConfig{IntervalHours: 0, RetentionCount: 5})
	startAndWait(t, func() { j.Start(context.Background()) }, 2*time.Second)
	assert.Empty(t, r.runs)
}

func TestBackupJob_RunOnce_SchedulesAndPrunes(t *testing.T) {
	r := &fakeRunner{}
	j := NewBackupJob(r, config.BackupConfig{IntervalHours: 24, RetentionCount: 7})

	require.NoError(t, j.runOnce(context.Background()))
	assert.Equal(t, []string{backup.TriggerScheduled}, r.runs)
	assert.Equal(t, []int{7}, r.pruned)
}

func TestBackupJob_RunOnce_NoRetentionSkipsPrune(t *testing.T) {
	r := &fakeRunner{}
	j := NewBackupJob(r, config.BackupConfig{IntervalHours: 24})

	require.NoError(t, j.runOnce(context.Background()))
	assert.Empty(t, r.pruned)
}

func TestBackupJob_RunOnce_FailedBackupDoesNotPrune(t *testing.T) {
	r := &fakeRunner{runErr: errors.New("pg_dump: connection refused")}
	j := NewBackupJob(r, config.BackupConfig{IntervalHours: 24, RetentionCount: 3})

	err := j.runOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduled backup")
	assert.Empty(t, r.pruned)
}

func TestBackupJob_StartRunsImmediatelyThenStops(t *testing.T) {
	r := &fakeRunner{ran: make(chan struct{}, 1)}
	j := NewBackupJob(r, config.BackupConfig{IntervalHours: 24})

	done := make(chan struct{})
	go func() {
		j.Start(context.Background())
		close(done)
	}()

	select {
	case <-r.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("initial backup did not run")
	}
	j.Stop()
	j.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

// ---------------------------------------------------------------------------
// AuditRetentionJob
// ---------------------------------------------------------------------------

type fakePurger struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePurger) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestAuditRetentionJob_DisabledWithoutRetention(t *testing.T) {
	j := NewAuditRetentionJob(&fakePurger{}, 0, 24)
	assert.Equal(t, time.Duration(0), j.interval)
	startAndWait(t, func() { j.Start(context.Background()) }, 2*time.Second)
}

func TestAuditRetentionJob_RunOnce_Cutoff(t *testing.T) {
	p := &fakePurger{n: 12}
	j := NewAuditRetentionJob(p, 90, 24)
	j.now = func() time.Time { return time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, j.runOnce(context.Background()))
	assert.Equal(t, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), p.cutoff)
}

func TestAuditRetentionJob_RunOnce_Error(t *testing.T) {
	j := NewAuditRetentionJob(&fakePurger{err: errors.New("boom")}, 30, 24)
	assert.Error(t, j.runOnce(context.Background()))
}

// ---------------------------------------------------------------------------
// RoleExpiryJob
// ---------------------------------------------------------------------------

type fakeExpirer struct {
	calls int
	err   error
}

func (f *fakeExpirer) ExpireEnded(context.Context) (int, error) {
	f.calls++
	return 3, f.err
}

func TestRoleExpiryJob_Interval(t *testing.T) {
	j := NewRoleExpiryJob(&fakeExpirer{}, 15)
	assert.Equal(t, 15*time.Minute, j.interval)
}

func TestRoleExpiryJob_ContextCancelStops(t *testing.T) {
	e := &fakeExpirer{}
	j := NewRoleExpiryJob(e, 60)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestRoleExpiryJob_RunOnce_PropagatesError(t *testing.T) {
	e := &fakeExpirer{err: errors.New("db down")}
	j := NewRoleExpiryJob(e, 60)
	assert.EqualError(t, j.runOnce(context.Background()), "db down")
	assert.Equal(t, 1, e.calls)
}

func TestTicker_OnceRecoversPanic(t *testing.T) {
	tk := newTicker("panicky", time.Minute)
	assert.NotPanics(t, func() {
		tk.once(context.Background(), func(context.Context) error { panic("bad cycle") })
	})
}

// ---------------------------------------------------------------------------
// TokenCleanupJob
// ---------------------------------------------------------------------------

type fakeTokenPurger struct {
	cutoff time.Time
	err    error
}

func (f *fakeTokenPurger) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestTokenCleanupJob_RunOnce(t *testing.T) {
	p := &fakeTokenPurger{}
	j := NewTokenCleanupJob(p, 24)
	now := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	require.NoError(t, j.runOnce(context.Background()))
	assert.Equal(t, now, p.cutoff)

	p.err = errors.New("boom")
	assert.Error(t, j.runOnce(context.Background()))
}

func TestTokenCleanupJob_Disabled(t *testing.T) {
	j := NewTokenCleanupJob(&fakeTokenPurger{}, 0)
	assert.Equal(t, time.Duration(0), j.interval)
	startAndWait(t, func() { j.Start(context.Background()) }, 2*time.Second)
}
