// Package main is the guardian, the ops CLI for the deploy targets in ops.environments.
//
//	guardian [flags] <health|restart|start|release|recover> <environment>
//	guardian [flags] status
//
// Every action is rate limited per target, audited to ops.audit_log and retried through
// automatic recovery when it fails. Results are printed as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/ldc-construction/ldc-tools/internal/cache"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/ops"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

const usage = `usage: guardian [flags] <action> [environment]

actions:
  health <env>               check HTTP endpoints and database connectivity
  restart <env>              restart the services and wait for health
  start <env>                free the ports, start the services and wait for health
  release <env> [--version]  activate a release (newest by default) and restart
  recover <env> [--force]    stop services, kill stray processes, free ports
                             (--force also restarts the container)
  status                     show attempts and last success per operation

flags:
`

type result struct {
	Action      string      `json:"action"`
	Environment string      `json:"environment,omitempty"`
	OK          bool        `json:"ok"`
	Error       string      `json:"error,omitempty"`
	Failure     ops.Failure `json:"failure,omitempty"`
	Data        interface{} `json:"data,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("guardian", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_PATH"), "path to the config file")
	releaseVersion := fs.String("version", "", "release to activate (release action)")
	force := fs.Bool("force", false, "also restart the container (recover action)")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(reorder(args)); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return 2
	}
	action := fs.Arg(0)

	cfg, err := config.LoadOps(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		return 1
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, closeFn, err := newGuardian(ctx, cfg, action)
	if err != nil {
		return emit(result{Action: action, Error: err.Error()})
	}
	defer closeFn()

	if action == "status" {
		return emit(result{Action: action, OK: true, Data: g.Status()})
	}

	if fs.NArg() < 2 {
		fs.Usage()
		return 2
	}
	target, err := ops.ResolveTarget(cfg.Ops, fs.Arg(1))
	if err != nil {
		return emit(result{Action: action, Environment: fs.Arg(1), Error: err.Error()})
	}

	res := result{Action: action, Environment: target.Name}
	switch action {
	case ops.OpHealth:
		res.Data, err = g.Health(ctx, target)
	case ops.OpRestart:
		err = g.Restart(ctx, target)
	case ops.OpStart:
		err = g.Start(ctx, target)
	case ops.OpRelease:
		var chosen string
		chosen, err = g.Release(ctx, target, *releaseVersion)
		if chosen != "" {
			res.Data = map[string]string{"release": chosen}
		}
	case ops.OpRecover:
		err = g.Recover(ctx, target, *force)
	default:
		fs.Usage()
		return 2
	}

	if err != nil {
		res.Error = err.Error()
		res.Failure = ops.Classify(err)
	}
	res.OK = err == nil
	return emit(res)
}

// newGuardian wires the SSH runner, the limiter and the audit log and restores earlier
// state from the audit log. status needs no SSH key.
func newGuardian(ctx context.Context, cfg *config.Config, action string) (*ops.Guardian, func(), error) {
	closeFn := func() {}

	var runner ops.Runner
	if action != "status" {
		r, err := ops.NewSSHRunner(cfg.Ops)
		if err != nil {
			return nil, closeFn, err
		}
		runner = r
	}

	rl := cfg.Ops.RateLimit
	var limiter ops.Limiter = ops.NewSlidingWindow(rl.MaxOperations, rl.Window)
	if rl.UseRedis {
		redisCfg := cfg.Redis
		redisCfg.Enabled = true
		rdb, err := cache.NewRedisClient(ctx, redisCfg)
		if err != nil {
			slog.Warn("redis unavailable, using the local rate limit", "addr", cfg.Redis.Addr, "error", err)
		} else {
			limiter = ops.NewRedisLimiter(rdb, cfg.Redis.KeyPrefix, rl.MaxOperations, rl.Window)
			closeFn = func() { closeRedis(rdb) }
		}
	}

	g := ops.New(cfg.Ops, ops.Deps{
		Runner:   runner,
		Limiter:  limiter,
		Audit:    ops.NewAuditLog(cfg.Ops.AuditLog),
		Operator: operator(),
	})
	if err := g.Restore(); err != nil {
		closeFn()
		return nil, func() {}, fmt.Errorf("read ops audit log: %w", err)
	}
	return g, closeFn, nil
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		slog.Warn("closing redis", "error", err)
	}
}

func operator() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// reorder moves flags ahead of positional arguments so that
// "guardian release prod --version v1.2.0" parses like "guardian --version v1.2.0 release prod".
func reorder(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			positional = append(positional, args[i+1:]...)
			i = len(args)
		case len(a) > 1 && a[0] == '-':
			flags = append(flags, a)
			name := a
			for len(name) > 0 && name[0] == '-' {
				name = name[1:]
			}
			if (name == "version" || name == "config") && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
		default:
			positional = append(positional, a)
		}
	}
	return append(flags, positional...)
}

func emit(res result) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		return 1
	}
	if !res.OK {
		return 1
	}
	return 0
}
