package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

// Operation names as they appear in the audit log and the status report.
const (
	OpHealth  = "health"
	OpRestart = "restart"
	OpStart   = "start"
	OpRelease = "release"
	OpRecover = "recover"
)

const (
	defaultOpTimeout     = 30 * time.Second
	defaultHealthTimeout = 2 * time.Minute
	recoveryTimeout      = 2 * time.Minute
	containerReadyWait   = 2 * time.Minute
)

// ErrRateLimited is returned when the operation limit for a target is exhausted.
var ErrRateLimited = errors.New("operation rate limit exceeded")

// Deps are the collaborators of a Guardian. Limiter and Audit may be nil.
type Deps struct {
	Runner   Runner
	Limiter  Limiter
	Audit    *AuditLog
	Health   *HealthChecker
	Tracker  *Tracker
	Operator string
}

// Guardian runs guarded operations against deploy targets.
type Guardian struct {
	cfg      config.OpsConfig
	runner   Runner
	limiter  Limiter
	audit    *AuditLog
	health   *HealthChecker
	tracker  *Tracker
	operator string
	now      func() time.Time
}

// New creates a Guardian.
func New(cfg config.OpsConfig, deps Deps) *Guardian {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	g := &Guardian{
		cfg:      cfg,
		runner:   deps.Runner,
		limiter:  deps.Limiter,
		audit:    deps.Audit,
		health:   deps.Health,
		tracker:  deps.Tracker,
		operator: deps.Operator,
		now:      time.Now,
	}
	if g.health == nil {
		g.health = NewHealthChecker(cfg.HealthTimeout)
	}
	if g.tracker == nil {
		g.tracker = NewTracker(cfg.ForceRecoveryAfter)
	}
	return g
}

// Restore loads earlier operations from the audit log into the deadlock tracker and,
// for an in-memory limiter, the rate window.
func (g *Guardian) Restore() error {
	if g.audit == nil {
		return nil
	}
	entries, err := g.audit.Entries()
	if err != nil {
		return err
	}
	g.tracker.Replay(entries)
	if sw, ok := g.limiter.(*SlidingWindow); ok {
		for _, e := range entries {
			if e.Outcome != OutcomeRateLimited && e.Operation != "" {
				sw.Seed(e.Operation+":"+e.Environment, e.Timestamp)
			}
		}
	}
	return nil
}

// execution collects the commands an operation ran, for the audit entry. parent is the
// caller's context without the ops.timeout deadline; health waits derive from it.
type execution struct {
	g        *Guardian
	target   *Target
	parent   context.Context
	mu       sync.Mutex
	commands []string
}

func (e *execution) run(ctx context.Context, host, command string) (string, error) {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	e.mu.Unlock()
	return e.g.runner.Run(ctx, host, command)
}

// execute runs fn as operation op on t with the rate limit, deadlock detection,
// timeout, automatic recovery and audit applied.
func (g *Guardian) execute(ctx context.Context, op string, t *Target, fn func(context.Context, *execution) error) error {
	start := g.now()
	exec := &execution{g: g, target: t, parent: ctx}

	if g.limiter != nil {
		ok, retry, err := g.limiter.Allow(ctx, op+":"+t.Name)
		if err != nil {
			slog.Warn("guardian rate limiter unavailable, allowing operation", "operation", op, "error", err)
		} else if !ok {
			err := fmt.Errorf("%w: %s on %s, retry in %s", ErrRateLimited, op, t.Name, retry.Round(time.Second))
			g.record(op, t, exec, start, OutcomeRateLimited, err)
			return err
		}
	}

	st := g.tracker.Check(op, t.Name)
	if st.IsDeadlock {
		slog.Warn("deadlock detected", "operation", op, "target", t.Name,
			"attempts", st.Attempts, "since_first", st.SinceFirst.Round(time.Second).String())
		if st.NeedsForceRecovery {
			slog.Warn("no recent success, forcing recovery before retry", "target", t.Name)
			rctx, cancel := context.WithTimeout(ctx, recoveryTimeout)
			if err := g.clearTarget(rctx, exec, t); err != nil {
				slog.Error("force recovery failed", "target", t.Name, "error", err)
			}
			cancel()
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	err := fn(opCtx, exec)
	cancel()

	if err == nil {
		g.tracker.Success(op, t.Name)
		g.record(op, t, exec, start, OutcomeSuccess, nil)
		return nil
	}

	if errors.Is(opCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%s timed out after %s: %w", op, g.cfg.Timeout, err)
	}
	g.record(op, t, exec, start, OutcomeFailure, err)
	g.recoverFrom(ctx, Classify(err), exec, t)
	return err
}

func (g *Guardian) record(op string, t *Target, exec *execution, start time.Time, outcome string, err error) {
	if g.audit == nil {
		return
	}
	e := AuditEntry{
		Timestamp:   start.UTC(),
		Operation:   op,
		Environment: t.Name,
		Host:        t.Host,
		Commands:    exec.commands,
		Outcome:     outcome,
		DurationMS:  g.now().Sub(start).Milliseconds(),
		Operator:    g.operator,
	}
	if err != nil {
		e.Error = err.Error()
		e.Failure = Classify(err)
	}
	if aerr := g.audit.Append(e); aerr != nil {
		slog.Error("failed to write ops audit log", "error", aerr)
	}
}

// recoverFrom runs the recovery routine for a failure class. Recovery errors are logged;
// the original failure is what the caller sees.
func (g *Guardian) recoverFrom(ctx context.Context, kind Failure, exec *execution, t *Target) {
	rctx, cancel := context.WithTimeout(ctx, recoveryTimeout)
	defer cancel()

	var err error
	switch kind {
	case FailurePortInUse:
		slog.Info("recovering port conflict", "target", t.Name)
		err = g.clearPorts(rctx, exec, t)
	case FailureConnectionRefused:
		slog.Info("recovering connection issue", "target", t.Name)
		err = g.recoverConnection(rctx, exec, t)
	case FailureDatabase:
		slog.Info("checking database connectivity", "target", t.Name)
		err = g.checkDatabase(rctx, t)
	case FailureMissingFiles:
		slog.Warn("application files missing; redeploy with `guardian release`", "target", t.Name, "app_dir", t.AppDir)
	default:
		return
	}
	if err != nil {
		slog.Error("automatic recovery failed", "failure", string(kind), "target", t.Name, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Recovery routines
// ---------------------------------------------------------------------------

// clearPorts kills whatever holds the target's ports, then stray service processes.
func (g *Guardian) clearPorts(ctx context.Context, exec *execution, t *Target) error {
	for _, port := range t.portList() {
		if _, err := exec.run(ctx, t.Host, fmt.Sprintf("fuser -k %d/tcp || true", port)); err != nil {
			return err
		}
	}
	return g.killStray(ctx, exec, t)
}

func (g *Guardian) killStray(ctx context.Context, exec *execution, t *Target) error {
	for _, svc := range t.Services {
		if _, err := exec.run(ctx, t.Host, fmt.Sprintf("pkill -f %s || true", shellQuote(svc))); err != nil {
			return err
		}
	}
	return nil
}

// clearTarget stops the services, kills stray processes and frees the ports.
func (g *Guardian) clearTarget(ctx context.Context, exec *execution, t *Target) error {
	if len(t.Services) > 0 {
		if _, err := exec.run(ctx, t.Host, systemctl("stop", t.Services)+" || true"); err != nil {
			return err
		}
	}
	return g.clearPorts(ctx, exec, t)
}

// recoverConnection checks SSH and the application directory and escalates to a
// container restart when the host does not answer.
func (g *Guardian) recoverConnection(ctx context.Context, exec *execution, t *Target) error {
	if _, err := exec.run(ctx, t.Host, "echo ok"); err != nil {
		slog.Warn("target unreachable over ssh, restarting container", "target", t.Name, "error", err)
		return g.restartContainer(ctx, exec, t)
	}
	if t.AppDir != "" {
		if _, err := exec.run(ctx, t.Host, "ls -la "+shellQuote(t.AppDir+"/current")); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guardian) checkDatabase(ctx context.Context, t *Target) error {
	if t.DatabaseAddr == "" {
		return errors.New("no database_addr configured")
	}
	return g.health.Dial(ctx, t.DatabaseAddr)
}

// restartContainer restarts the target's container on the hypervisor and waits until
// the target accepts SSH again.
func (g *Guardian) restartContainer(ctx context.Context, exec *execution, t *Target) error {
	if g.cfg.HypervisorHost == "" || t.ContainerID == "" {
		return errors.New("container restart needs ops.hypervisor_host and a container_id")
	}
	id := shellQuote(t.ContainerID)
	if _, err := exec.run(ctx, g.cfg.HypervisorHost, fmt.Sprintf("pct stop %s && sleep 5 && pct start %s", id, id)); err != nil {
		return err
	}
	return g.waitSSH(ctx, t)
}

func (g *Guardian) waitSSH(ctx context.Context, t *Target) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = containerReadyWait

	err := backoff.Retry(func() error {
		_, err := g.runner.Run(ctx, t.Host, "echo ready")
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("container %s did not become ready within %s: %w", t.ContainerID, containerReadyWait, err)
	}
	return nil
}

// waitHealthy polls every endpoint within ops.health_timeout, independent of ops.timeout.
func (g *Guardian) waitHealthy(exec *execution, t *Target) error {
	ctx, cancel := context.WithTimeout(exec.parent, g.cfg.HealthTimeout)
	defer cancel()
	for _, ep := range t.Endpoints() {
		if err := g.health.WaitHealthy(ctx, ep.URL); err != nil {
			return fmt.Errorf("%s not healthy: %w", ep.Name, err)
		}
	}
	return nil
}

func systemctl(verb string, services []string) string {
	quoted := make([]string, len(services))
	for i, s := range services {
		quoted[i] = shellQuote(s)
	}
	return "systemctl " + verb + " " + strings.Join(quoted, " ")
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// HealthReport is the result of the health action.
type HealthReport struct {
	Target    string            `json:"target"`
	Healthy   bool              `json:"healthy"`
	Endpoints map[string]string `json:"endpoints"`
	Database  string            `json:"database,omitempty"`
}

// Health checks every HTTP endpoint once and dials the database.
func (g *Guardian) Health(ctx context.Context, t *Target) (*HealthReport, error) {
	report := &HealthReport{Target: t.Name, Healthy: true, Endpoints: map[string]string{}}
	err := g.execute(ctx, OpHealth, t, func(ctx context.Context, _ *execution) error {
		var failed []string
		for _, ep := range t.Endpoints() {
			code, err := g.health.Check(ctx, ep.URL)
			switch {
			case err != nil && code == 0:
				report.Endpoints[ep.Name] = "unreachable"
				failed = append(failed, err.Error())
			case err != nil:
				report.Endpoints[ep.Name] = fmt.Sprintf("unhealthy (%d)", code)
				failed = append(failed, err.Error())
			default:
				report.Endpoints[ep.Name] = fmt.Sprintf("healthy (%d)", code)
			}
		}
		if t.DatabaseAddr != "" {
			if err := g.health.Dial(ctx, t.DatabaseAddr); err != nil {
				report.Database = "unreachable"
				failed = append(failed, err.Error())
			} else {
				report.Database = "reachable"
			}
		}
		if len(failed) > 0 {
			report.Healthy = false
			return errors.New(strings.Join(failed, "; "))
		}
		return nil
	})
	return report, err
}

// Restart restarts the target's services and waits for them to become healthy.
func (g *Guardian) Restart(ctx context.Context, t *Target) error {
	return g.execute(ctx, OpRestart, t, func(ctx context.Context, exec *execution) error {
		if len(t.Services) == 0 {
			return errors.New("no services configured")
		}
		if _, err := exec.run(ctx, t.Host, systemctl("restart", t.Services)); err != nil {
			return err
		}
		return g.waitHealthy(exec, t)
	})
}

// Start clears the ports, starts the services and waits for them to become healthy.
func (g *Guardian) Start(ctx context.Context, t *Target) error {
	return g.execute(ctx, OpStart, t, func(ctx context.Context, exec *execution) error {
		if len(t.Services) == 0 {
			return errors.New("no services configured")
		}
		if err := g.clearPorts(ctx, exec, t); err != nil {
			return fmt.Errorf("pre-flight: %w", err)
		}
		if _, err := exec.run(ctx, t.Host, systemctl("start", t.Services)); err != nil {
			return err
		}
		return g.waitHealthy(exec, t)
	})
}

// Release switches current to the requested release, or the newest one, restarts the
// services and waits for health. It returns the release it activated.
func (g *Guardian) Release(ctx context.Context, t *Target, requested string) (string, error) {
	var chosen string
	err := g.execute(ctx, OpRelease, t, func(ctx context.Context, exec *execution) error {
		if t.AppDir == "" {
			return errors.New("no app_dir configured")
		}
		out, err := exec.run(ctx, t.Host, listReleasesCommand(t.AppDir))
		if err != nil {
			return err
		}
		chosen, err = SelectRelease(parseListing(out), requested)
		if err != nil {
			return err
		}
		slog.Info("activating release", "target", t.Name, "release", chosen)
		if _, err := exec.run(ctx, t.Host, switchReleaseCommand(t.AppDir, chosen)); err != nil {
			return err
		}
		if len(t.Services) > 0 {
			if _, err := exec.run(ctx, t.Host, systemctl("restart", t.Services)); err != nil {
				return err
			}
		}
		return g.waitHealthy(exec, t)
	})
	return chosen, err
}

// Recover stops the services, kills stray processes and frees the ports. With force it
// also restarts the container and waits for SSH.
func (g *Guardian) Recover(ctx context.Context, t *Target, force bool) error {
	return g.execute(ctx, OpRecover, t, func(ctx context.Context, exec *execution) error {
		if err := g.clearTarget(ctx, exec, t); err != nil && !force {
			return err
		}
		if force {
			return g.restartContainer(ctx, exec, t)
		}
		return nil
	})
}

// Status reports attempts and last success per operation.
func (g *Guardian) Status() []OperationStatus {
	return g.tracker.Snapshot()
}
