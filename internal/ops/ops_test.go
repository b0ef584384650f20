package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

// clock is a settable time source for the tracker and limiter.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func at(c *clock, d time.Duration) time.Time { return c.t.Add(d) }

// ---------------------------------------------------------------------------
// Tracker
// ---------------------------------------------------------------------------

func TestTracker_DeadlockNeedsThreeAttemptsOverAMinute(t *testing.T) {
	c := newClock()
	tr := NewTracker(2 * time.Minute)
	tr.now = c.now

	st := tr.Check(OpRestart, "prod")
	assert.False(t, st.IsDeadlock)
	assert.Equal(t, 1, st.Attempts)
	assert.True(t, st.NeedsForceRecovery, "never succeeded")

	c.advance(10 * time.Second)
	st = tr.Check(OpRestart, "prod")
	c.advance(10 * time.Second)
	st = tr.Check(OpRestart, "prod")
	assert.Equal(t, 3, st.Attempts)
	assert.False(t, st.IsDeadlock, "three attempts within the window are not a deadlock")

	c.advance(45 * time.Second)
	st = tr.Check(OpRestart, "prod")
	assert.True(t, st.IsDeadlock)
	assert.Equal(t, 65*time.Second, st.SinceFirst)
}

func TestTracker_SuccessResetsAttempts(t *testing.T) {
	c := newClock()
	tr := NewTracker(2 * time.Minute)
	tr.now = c.now

	tr.Check(OpStart, "prod")
	tr.Check(OpStart, "prod")
	tr.Success(OpStart, "prod")

	c.advance(30 * time.Second)
	st := tr.Check(OpStart, "prod")
	assert.Equal(t, 1, st.Attempts)
	assert.False(t, st.NeedsForceRecovery, "succeeded 30s ago")

	c.advance(3 * time.Minute)
	st = tr.Check(OpStart, "prod")
	assert.True(t, st.NeedsForceRecovery, "last success older than forceAfter")
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.Check(OpRestart, "prod")
	tr.Check(OpRestart, "prod")
	st := tr.Check(OpRestart, "staging")
	assert.Equal(t, 1, st.Attempts)
	st = tr.Check(OpStart, "prod")
	assert.Equal(t, 1, st.Attempts)
}

func TestTracker_ReplayAndSnapshot(t *testing.T) {
	c := newClock()
	tr := NewTracker(2 * time.Minute)
	tr.now = c.now

	tr.Replay([]AuditEntry{
		{Timestamp: at(c, -5*time.Minute), Operation: OpRestart, Environment: "prod", Outcome: OutcomeFailure},
		{Timestamp: at(c, -4*time.Minute), Operation: OpRestart, Environment: "prod", Outcome: OutcomeSuccess},
		{Timestamp: at(c, -3*time.Minute), Operation: OpRestart, Environment: "prod", Outcome: OutcomeFailure},
		{Timestamp: at(c, -2*time.Minute), Operation: OpRestart, Environment: "prod", Outcome: OutcomeRateLimited},
		{Timestamp: at(c, -1*time.Minute), Operation: OpHealth, Environment: "staging", Outcome: OutcomeSuccess},
		{Timestamp: at(c, -1*time.Minute), Environment: "staging", Outcome: OutcomeFailure},
	})

	snap := tr.Snapshot()
	require.Len(t, snap, 2)

	assert.Equal(t, OpHealth, snap[0].Operation)
	assert.Equal(t, 0, snap[0].Attempts)
	require.NotNil(t, snap[0].LastSuccess)

	assert.Equal(t, OpRestart, snap[1].Operation)
	assert.Equal(t, 1, snap[1].Attempts, "rate limited entries are not attempts")
	require.NotNil(t, snap[1].FirstAttempt)
	assert.Equal(t, at(c, -3*time.Minute), *snap[1].FirstAttempt)
	assert.Equal(t, at(c, -4*time.Minute), *snap[1].LastSuccess)
}

// ---------------------------------------------------------------------------
// SlidingWindow
// ---------------------------------------------------------------------------

func TestSlidingWindow(t *testing.T) {
	c := newClock()
	l := NewSlidingWindow(2, time.Minute)
	l.now = c.now
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "restart:prod")
	require.NoError(t, err)
	assert.True(t, ok)

	c.advance(20 * time.Second)
	ok, _, _ = l.Allow(ctx, "restart:prod")
	assert.True(t, ok)

	c.advance(10 * time.Second)
	ok, retry, _ := l.Allow(ctx, "restart:prod")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry)

	ok, _, _ = l.Allow(ctx, "restart:staging")
	assert.True(t, ok, "other keys have their own window")

	c.advance(31 * time.Second)
	ok, _, _ = l.Allow(ctx, "restart:prod")
	assert.True(t, ok, "oldest hit left the window")
}

func TestSlidingWindow_Seed(t *testing.T) {
	c := newClock()
	l := NewSlidingWindow(1, time.Minute)
	l.now = c.now

	l.Seed("start:prod", at(c, -2*time.Minute))
	ok, _, _ := l.Allow(context.Background(), "start:prod")
	assert.True(t, ok, "seeded hit outside the window")

	l.Seed("start:qa", at(c, -10*time.Second))
	ok, retry, _ := l.Allow(context.Background(), "start:qa")
	assert.False(t, ok)
	assert.Equal(t, 50*time.Second, retry)
}

func TestSlidingWindow_NonPositiveMaxAllowsOne(t *testing.T) {
	for _, max := range []int{0, -3} {
		l := NewSlidingWindow(max, time.Minute)
		ok, _, err := l.Allow(context.Background(), "health:prod")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, retry, _ := l.Allow(context.Background(), "health:prod")
		assert.False(t, ok)
		assert.Greater(t, retry, time.Duration(0))
	}
}

// ---------------------------------------------------------------------------
// SelectRelease
// ---------------------------------------------------------------------------

func TestSelectRelease(t *testing.T) {
	names := []string{"v1.0.0", "v1.10.0", "v1.9.2", "scratch", "1.10.0-rc1"}

	tests := []struct {
		name      string
		requested string
		want      string
		wantErr   bool
	}{
		{name: "highest version by default", want: "v1.10.0"},
		{name: "exact name", requested: "v1.9.2", want: "v1.9.2"},
		{name: "version without prefix", requested: "1.0.0", want: "v1.0.0"},
		{name: "non-version name", requested: "scratch", want: "scratch"},
		{name: "missing", requested: "3.0.0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectRelease(names, tt.requested)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoRelease)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectRelease_NoVersions(t *testing.T) {
	_, err := SelectRelease([]string{"tmp", "old"}, "")
	assert.ErrorIs(t, err, ErrNoRelease)
}

func TestReleaseCommands(t *testing.T) {
	assert.Equal(t, "ls -1 '/srv/app/releases'", listReleasesCommand("/srv/app"))
	assert.Equal(t,
		"cd '/srv/app' && test -d 'releases/v1.2.0' && ln -sfn 'releases/v1.2.0' current.tmp && mv -T current.tmp current",
		switchReleaseCommand("/srv/app", "v1.2.0"))
	assert.Equal(t, []string{"v1", "v2"}, parseListing("v1\n\n  v2  \n"))
}

// ---------------------------------------------------------------------------
// Classify
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Failure
	}{
		{nil, ""},
		{fmt.Errorf("listen: %w", syscall.EADDRINUSE), FailurePortInUse},
		{errors.New("bind: address already in use"), FailurePortInUse},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), FailureConnectionRefused},
		{errors.New("dial tcp 10.0.0.5:22: connect: connection refused"), FailureConnectionRefused},
		{errors.New("database dial 10.0.0.9:5432: i/o"), FailureDatabase},
		{errors.New("ls: cannot access '/srv/app/current': No such file or directory"), FailureMissingFiles},
		{fmt.Errorf("wait: %w", context.DeadlineExceeded), FailureTimeout},
		{errors.New("restart timed out"), FailureTimeout},
		{errors.New("exit status 3"), FailureUnknown},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

// ---------------------------------------------------------------------------
// AuditLog
// ---------------------------------------------------------------------------

func TestAuditLog_AppendAndEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops-audit.jsonl")
	log := NewAuditLog(path)

	entries, err := log.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "missing file")

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(AuditEntry{Timestamp: ts, Operation: OpRestart, Environment: "prod",
		Commands: []string{"systemctl restart 'app'"}, Outcome: OutcomeSuccess, DurationMS: 1200}))
	require.NoError(t, log.Append(AuditEntry{Timestamp: ts.Add(time.Minute), Operation: OpStart, Environment: "prod",
		Outcome: OutcomeFailure, Error: "address already in use", Failure: FailurePortInUse}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err = log.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ts, entries[0].Timestamp)
	assert.Equal(t, []string{"systemctl restart 'app'"}, entries[0].Commands)
	assert.Equal(t, FailurePortInUse, entries[1].Failure)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// ---------------------------------------------------------------------------
// Targets
// ---------------------------------------------------------------------------

func opsConfig() config.OpsConfig {
	return config.OpsConfig{
		Environments: map[string]config.OpsEnvironment{
			"prod": {
				Host:        "10.0.0.5",
				ContainerID: "105",
				Ports:       map[string]int{"web": 3000, "api": 8080},
				HealthPaths: map[string]string{"api": "/health"},
				Services:    []string{"ldc-api", "ldc-web"},
			},
			"staging": {Host: "10.0.0.6", ContainerID: "106"},
		},
	}
}

func TestResolveTarget(t *testing.T) {
	cfg := opsConfig()

	tgt, err := ResolveTarget(cfg, "prod")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", tgt.Host)

	tgt, err = ResolveTarget(cfg, "106")
	require.NoError(t, err)
	assert.Equal(t, "staging", tgt.Name)

	_, err = ResolveTarget(cfg, "dev")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestTarget_Endpoints(t *testing.T) {
	tgt, err := ResolveTarget(opsConfig(), "prod")
	require.NoError(t, err)

	assert.Equal(t, []Endpoint{
		{Name: "api", URL: "http://10.0.0.5:8080/health"},
		{Name: "web", URL: "http://10.0.0.5:3000/"},
	}, tgt.Endpoints())
	assert.Equal(t, []int{8080, 3000}, tgt.portList())
}

// ---------------------------------------------------------------------------
// HealthChecker
// ---------------------------------------------------------------------------

func TestHealthChecker_Check(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"redirect to login", http.StatusFound, false},
		{"server error", http.StatusInternalServerError, true},
		{"not found", http.StatusNotFound, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusFound {
					http.Redirect(w, r, "/login", http.StatusFound)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			code, err := NewHealthChecker(time.Second).Check(context.Background(), srv.URL)
			assert.Equal(t, tt.status, code)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHealthChecker_WaitHealthyRecovers(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewHealthChecker(10*time.Second).WaitHealthy(context.Background(), srv.URL))
	assert.GreaterOrEqual(t, calls, 2)
}

func TestHealthChecker_WaitHealthyGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	assert.Error(t, NewHealthChecker(time.Minute).WaitHealthy(ctx, srv.URL))
}

func TestHealthChecker_Dial(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := NewHealthChecker(time.Second)
	assert.NoError(t, h.Dial(context.Background(), srv.Listener.Addr().String()))

	addr := srv.Listener.Addr().String()
	srv.Close()
	assert.Error(t, h.Dial(context.Background(), addr))
}
