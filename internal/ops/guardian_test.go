package ops

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

type call struct {
	host    string
	command string
}

// fakeRunner records commands and fails those containing a configured substring.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	fail    map[string]error
	outputs map[string]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: map[string]error{}, outputs: map[string]string{}}
}

func (r *fakeRunner) Run(_ context.Context, host, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{host, command})
	for sub, err := range r.fail {
		if strings.Contains(command, sub) {
			return "", err
		}
	}
	for sub, out := range r.outputs {
		if strings.Contains(command, sub) {
			return out, nil
		}
	}
	return "", nil
}

func (r *fakeRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.command
	}
	return out
}

func indexOf(cmds []string, want string) int {
	for i, c := range cmds {
		if c == want {
			return i
		}
	}
	return -1
}

func testTarget() *Target {
	return &Target{
		Name:        "prod",
		Host:        "10.0.0.5",
		ContainerID: "105",
		Services:    []string{"ldc-api"},
		AppDir:      "/srv/ldc",
	}
}

func newTestGuardian(t *testing.T, runner Runner, limiter Limiter) (*Guardian, *AuditLog) {
	t.Helper()
	audit := NewAuditLog(filepath.Join(t.TempDir(), "ops-audit.jsonl"))
	g := New(config.OpsConfig{Timeout: 5 * time.Second, HealthTimeout: 2 * time.Second, ForceRecoveryAfter: 2 * time.Minute},
		Deps{Runner: runner, Limiter: limiter, Audit: audit, Operator: "tester"})
	return g, audit
}

func TestGuardian_RestartSuccess(t *testing.T) {
	r := newFakeRunner()
	g, audit := newTestGuardian(t, r, nil)

	require.NoError(t, g.Restart(context.Background(), testTarget()))
	assert.Equal(t, []string{"systemctl restart 'ldc-api'"}, r.commands())

	entries, err := audit.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OpRestart, entries[0].Operation)
	assert.Equal(t, "prod", entries[0].Environment)
	assert.Equal(t, OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "tester", entries[0].Operator)
	assert.Equal(t, []string{"systemctl restart 'ldc-api'"}, entries[0].Commands)

	status := g.Status()
	require.Len(t, status, 1)
	assert.NotNil(t, status[0].LastSuccess)
}

func TestGuardian_RateLimited(t *testing.T) {
	r := newFakeRunner()
	g, audit := newTestGuardian(t, r, NewSlidingWindow(1, time.Minute))
	ctx := context.Background()

	require.NoError(t, g.Restart(ctx, testTarget()))
	err := g.Restart(ctx, testTarget())
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, r.commands(), 1, "rate limited operation runs nothing")

	entries, err := audit.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, OutcomeRateLimited, entries[1].Outcome)
}

func TestGuardian_PortConflictRecovery(t *testing.T) {
	r := newFakeRunner()
	r.fail["systemctl restart"] = errors.New("listen tcp :8080: bind: address already in use")
	g, audit := newTestGuardian(t, r, nil)
	tgt := testTarget()
	tgt.Ports = map[string]int{"api": 8080}

	err := g.Restart(context.Background(), tgt)
	require.Error(t, err)

	cmds := r.commands()
	assert.Contains(t, cmds, "fuser -k 8080/tcp || true")
	assert.Contains(t, cmds, "pkill -f 'ldc-api' || true")

	entries, err := audit.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, OutcomeFailure, entries[0].Outcome)
	assert.Equal(t, FailurePortInUse, entries[0].Failure)
}

func TestGuardian_MissingFilesOnlyLogs(t *testing.T) {
	r := newFakeRunner()
	r.fail["ls -1"] = errors.New("ls: cannot access '/srv/ldc/releases': No such file or directory")
	g, _ := newTestGuardian(t, r, nil)

	_, err := g.Release(context.Background(), testTarget(), "")
	require.Error(t, err)
	assert.Equal(t, []string{"ls -1 '/srv/ldc/releases'"}, r.commands())
}

func TestGuardian_DeadlockForcesRecovery(t *testing.T) {
	r := newFakeRunner()
	g, audit := newTestGuardian(t, r, nil)
	c := newClock()
	g.tracker.now = c.now

	for _, d := range []time.Duration{-90 * time.Second, -50 * time.Second} {
		require.NoError(t, audit.Append(AuditEntry{Timestamp: at(c, d), Operation: OpStart, Environment: "prod", Outcome: OutcomeFailure}))
	}
	require.NoError(t, g.Restore())

	require.NoError(t, g.Start(context.Background(), testTarget()))

	cmds := r.commands()
	stop := indexOf(cmds, "systemctl stop 'ldc-api' || true")
	start := indexOf(cmds, "systemctl start 'ldc-api'")
	require.NotEqual(t, -1, stop, "force recovery stops the services first")
	require.NotEqual(t, -1, start)
	assert.Less(t, stop, start)
}

func TestGuardian_NoForceRecoveryAfterRecentSuccess(t *testing.T) {
	r := newFakeRunner()
	g, audit := newTestGuardian(t, r, nil)
	c := newClock()
	g.tracker.now = c.now

	require.NoError(t, audit.Append(AuditEntry{Timestamp: at(c, -100*time.Second), Operation: OpStart, Environment: "prod", Outcome: OutcomeSuccess}))
	for _, d := range []time.Duration{-90 * time.Second, -50 * time.Second} {
		require.NoError(t, audit.Append(AuditEntry{Timestamp: at(c, d), Operation: OpStart, Environment: "prod", Outcome: OutcomeFailure}))
	}
	require.NoError(t, g.Restore())

	require.NoError(t, g.Start(context.Background(), testTarget()))
	assert.Equal(t, -1, indexOf(r.commands(), "systemctl stop 'ldc-api' || true"))
}

func TestGuardian_Release(t *testing.T) {
	r := newFakeRunner()
	r.outputs["ls -1"] = "v1.2.0\nv1.10.0\nnotes\n"
	g, _ := newTestGuardian(t, r, nil)

	chosen, err := g.Release(context.Background(), testTarget(), "")
	require.NoError(t, err)
	assert.Equal(t, "v1.10.0", chosen)
	assert.Equal(t, []string{
		"ls -1 '/srv/ldc/releases'",
		switchReleaseCommand("/srv/ldc", "v1.10.0"),
		"systemctl restart 'ldc-api'",
	}, r.commands())

	_, err = g.Release(context.Background(), testTarget(), "9.9.9")
	assert.ErrorIs(t, err, ErrNoRelease)
}

func TestGuardian_RecoverForce(t *testing.T) {
	r := newFakeRunner()
	g, _ := newTestGuardian(t, r, nil)
	g.cfg.HypervisorHost = "pve"

	require.NoError(t, g.Recover(context.Background(), testTarget(), true))

	var hypervisor []string
	for _, c := range r.calls {
		if c.host == "pve" {
			hypervisor = append(hypervisor, c.command)
		}
	}
	assert.Equal(t, []string{"pct stop '105' && sleep 5 && pct start '105'"}, hypervisor)
	assert.Contains(t, r.commands(), "echo ready")
}

func TestGuardian_RecoverForceNeedsHypervisor(t *testing.T) {
	g, _ := newTestGuardian(t, newFakeRunner(), nil)
	assert.Error(t, g.Recover(context.Background(), testTarget(), true))
}

func TestGuardian_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	g, _ := newTestGuardian(t, newFakeRunner(), nil)
	tgt := &Target{Name: "prod", Host: u.Hostname(), Ports: map[string]int{"api": port}}

	report, err := g.Health(context.Background(), tgt)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Equal(t, "healthy (200)", report.Endpoints["api"])

	tgt.HealthPaths = map[string]string{"api": "/broken"}
	report, err = g.Health(context.Background(), tgt)
	require.Error(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, "unhealthy (500)", report.Endpoints["api"])
}

func TestGuardian_RestartWaitsPastCommandTimeout(t *testing.T) {
	healthyAt := time.Now().Add(1500 * time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if time.Now().Before(healthyAt) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	r := newFakeRunner()
	audit := NewAuditLog(filepath.Join(t.TempDir(), "ops-audit.jsonl"))
	g := New(config.OpsConfig{Timeout: 500 * time.Millisecond, HealthTimeout: 10 * time.Second},
		Deps{Runner: r, Audit: audit, Operator: "tester"})
	tgt := &Target{Name: "prod", Host: u.Hostname(), Services: []string{"ldc-api"}, Ports: map[string]int{"api": port}}

	require.NoError(t, g.Restart(context.Background(), tgt))
	assert.False(t, time.Now().Before(healthyAt))
	assert.Equal(t, []string{"systemctl restart 'ldc-api'"}, r.commands(), "no recovery ran")
}
