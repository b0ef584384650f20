// Package telemetry provides application-level observability for LDC tools.
//
// All metrics are registered against the default Prometheus registry and are served by the
// side-channel HTTP server started by main.go:
//
//	GET http://<host>:<LDC_TELEMETRY_METRICS_PORT>/metrics
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/trade-teams/:id)
// rather than the raw request URL to keep label cardinality bounded.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	RateLimitedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_requests_total",
			Help: "Requests rejected with 429, by limiter (api, auth).",
		},
		[]string{"limiter"},
	)
)

// Domain metrics.
//
// RoleAssignmentChangesTotal counts role assignment writes by action
// (assigned, removed, primary_swapped, expired).
var (
	RoleAssignmentChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "role_assignment_changes_total",
			Help: "Role assignment writes, by action.",
		},
		[]string{"action"},
	)

	WorkflowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_workflow_transitions_total",
			Help: "Assignment workflow state changes, by assignment type and target state.",
		},
		[]string{"type", "to"},
	)

	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events recorded, by resource and outcome (stored, failed).",
		},
		[]string{"resource", "outcome"},
	)

	AuditShipFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_ship_failures_total",
			Help: "Audit entries that a shipper failed to deliver, by shipper type.",
		},
		[]string{"shipper"},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Outbound emails, by kind (test, invite, password_reset, crew_request) and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// Backup and job metrics.
var (
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backups_total",
			Help: "Database backups attempted, by trigger (manual, scheduled) and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_duration_seconds",
			Help:    "Duration of a database dump plus upload.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	BackupSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backup_last_size_bytes",
			Help: "Compressed size of the most recent successful backup.",
		},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_job_runs_total",
			Help: "Background job cycles, by job and outcome.",
		},
		[]string{"job", "outcome"},
	)

	OpsActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ops_actions_total",
			Help: "Guardian actions, by action and outcome (success, failed, rate_limited).",
		},
		[]string{"action", "outcome"},
	)

	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache lookups and writes, by operation (hit, miss, set, clear).",
		},
		[]string{"op"},
	)
)

// DBOpenConnections tracks open connections in the sql.DB pool, sampled by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples pool statistics every 30 seconds until the database becomes
// unreachable, which happens once main closes it on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
