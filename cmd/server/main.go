// @title           LDC Tools API
// @version         1.0.0
// @description     Construction volunteer management: directories, trade teams, role assignments, the assignment approval workflow and administration.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "Session JWT: 'Bearer {token}'. Browsers send it in the session cookie instead."
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (telemetry.metrics.port, default 9090) at GET /metrics, outside the Gin router.

// Package main is the entry point for the LDC tools API server.
// It dispatches the serve, migrate, create-admin and version subcommands with a switch on os.Args.
// serve applies pending migrations on startup so a fresh container needs no separate step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ldc-construction/ldc-tools/internal/api"
	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

var version = "0.1.0"

// shutdownTimeout bounds draining in-flight requests.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("LDC tools v%s\n", version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")

	switch command {
	case "serve":
		return serve(configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down|status|force VERSION>", os.Args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg, os.Args[2], os.Args[3:])
	case "create-admin":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s create-admin EMAIL [NAME]", os.Args[0])
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return createAdmin(cfg, os.Args[2], strings.Join(os.Args[3:], " "))
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, create-admin, version", command)
	}
}

func serve(configPath string) error {
	// The log level follows config file edits without a restart.
	cfg, err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.InitJWTSecret(cfg.Security.JWTSecret, cfg.App.DevMode); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "sslmode", cfg.Database.SSLMode)
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections,
		cfg.Database.MinIdleConnections, cfg.Database.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(database.DB)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	var metricsSrv *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices, err := api.NewRouter(cfg, database, api.Options{
		Version:   version,
		StartedAt: time.Now(),
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", server.Addr,
			"base_url", cfg.Server.BaseURL,
			"environment", cfg.App.Environment,
			"storage", cfg.Storage.DefaultBackend,
			"tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			bgServices.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}

	// Jobs stop and audit shippers flush only after in-flight requests finish.
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func connect(cfg *config.Config) (*sqlx.DB, error) {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections,
		cfg.Database.MinIdleConnections, cfg.Database.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

// runMigrations applies, rolls back, reports or forces the schema version. force
// repairs a dirty schema left by an interrupted migration.
func runMigrations(cfg *config.Config, action string, args []string) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	switch action {
	case "up", "down":
		slog.Info("running migrations", "direction", action)
		if err := db.RunMigrations(database.DB, action); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "status":
	case "force":
		if len(args) < 1 {
			return errors.New("usage: migrate force VERSION")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := db.ForceMigrationVersion(database.DB, v); err != nil {
			return err
		}
		slog.Warn("migration version forced", "version", v)
	default:
		return fmt.Errorf("unknown migrate action %q (up, down, status, force)", action)
	}

	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("database schema", "version", v, "dirty", dirty)
	if dirty {
		fmt.Printf("schema version %d is dirty; fix the schema by hand, then run: migrate force %d\n", v, v)
	}
	return nil
}

// createAdmin creates a SUPER_ADMIN account with a generated password and prints it
// once. It is how the first administrator of a fresh database logs in.
func createAdmin(cfg *config.Config, email, name string) error {
	if err := validation.Email(email); err != nil {
		return err
	}
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	password, err := auth.GenerateTempPassword(16)
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	user := &models.User{
		Email:        validation.NormalizeEmail(email),
		PasswordHash: &hash,
		Role:         models.RoleSuperAdmin,
		IsActive:     true,
	}
	if name != "" {
		user.Name = &name
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repositories.NewUserRepository(database).CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("super admin created", "user_id", user.ID, "email", user.Email)
	fmt.Printf("email:    %s\npassword: %s\nChange this password after the first login.\n", user.Email, password)
	return nil
}
