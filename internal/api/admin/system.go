// system.go implements system health, runtime information, cache management and the
// maintenance mode switch.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/backup"
	"github.com/ldc-construction/ldc-tools/internal/cache"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
)

// healthCheckTimeout bounds each individual check.
const healthCheckTimeout = 5 * time.Second

// Check statuses.
const (
	StatusHealthy       = "healthy"
	StatusDegraded      = "degraded"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not_configured"
)

// SystemHandlers handles health, system info, cache and maintenance endpoints
type SystemHandlers struct {
	cfg         *config.Config
	db          *sqlx.DB
	cache       cache.Cache
	views       *services.ReadModels
	backups     *backup.Service
	mail        *email.Service
	settings    *repositories.SettingsRepository
	maintenance *middleware.MaintenanceState
	rec         *audit.Recorder
	version     string
	startedAt   time.Time
}

// SystemDeps are the collaborators of SystemHandlers. Backups and Mail may be nil.
type SystemDeps struct {
	Cache       cache.Cache
	Views       *services.ReadModels
	Backups     *backup.Service
	Mail        *email.Service
	Maintenance *middleware.MaintenanceState
	Recorder    *audit.Recorder
	Version     string
	StartedAt   time.Time
}

// NewSystemHandlers creates a new SystemHandlers instance
func NewSystemHandlers(cfg *config.Config, database *sqlx.DB, deps SystemDeps) *SystemHandlers {
	started := deps.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return &SystemHandlers{
		cfg:         cfg,
		db:          database,
		cache:       deps.Cache,
		views:       deps.Views,
		backups:     deps.Backups,
		mail:        deps.Mail,
		settings:    repositories.NewSettingsRepository(database),
		maintenance: deps.Maintenance,
		rec:         deps.Recorder,
		version:     deps.Version,
		startedAt:   started,
	}
}

// HealthCheck is one entry of the health status report
type HealthCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

func runCheck(ctx context.Context, name string, fn func(context.Context) error) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	hc := HealthCheck{Name: name, Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		hc.Status = StatusUnhealthy
		hc.Message = err.Error()
	}
	return hc
}

// overallStatus is unhealthy when the database is down and degraded when any other check fails.
func overallStatus(checks []HealthCheck) string {
	status := StatusHealthy
	for _, hc := range checks {
		if hc.Status != StatusUnhealthy {
			continue
		}
		if hc.Name == "database" {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}

// FormatUptime renders d as "N days, N hours, N minutes", or "Just started" under a minute.
func FormatUptime(d time.Duration) string {
	total := int(d.Minutes())
	days := total / (24 * 60)
	hours := (total % (24 * 60)) / 60
	minutes := total % 60

	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if len(parts) == 0 {
		return "Just started"
	}
	return strings.Join(parts, ", ")
}

// @Summary      System health
// @Description  Database, redis, storage and email checks with latency. 503 when the database is down.
// @Tags         System
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, checks, uptime, timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /api/v1/admin/health/status [get]
// HealthStatusHandler runs the system health checks
// GET /api/v1/admin/health/status
func (h *SystemHandlers) HealthStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := []HealthCheck{runCheck(ctx, "database", h.db.PingContext)}

		if h.cfg.Redis.Enabled && h.cache != nil {
			checks = append(checks, runCheck(ctx, "redis", h.cache.Ping))
		} else {
			checks = append(checks, HealthCheck{Name: "redis", Status: StatusNotConfigured})
		}

		if h.backups != nil {
			hc := runCheck(ctx, "storage", h.backups.Ping)
			hc.Message = strings.TrimSpace(h.backups.Backend() + " " + hc.Message)
			checks = append(checks, hc)
		} else {
			checks = append(checks, HealthCheck{Name: "storage", Status: StatusNotConfigured})
		}

		emailCheck := HealthCheck{Name: "email", Status: StatusNotConfigured}
		if h.mail != nil {
			start := time.Now()
			if h.mail.Configured(ctx) {
				emailCheck.Status = StatusHealthy
			}
			emailCheck.LatencyMS = time.Since(start).Milliseconds()
		}
		checks = append(checks, emailCheck)

		status := overallStatus(checks)
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"checks":    checks,
			"uptime":    FormatUptime(time.Since(h.startedAt)),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      System information
// @Tags         System
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, environment, uptime, runtime, database"
// @Router       /api/v1/admin/system/info [get]
// SystemInfoHandler returns version, runtime and database information
// GET /api/v1/admin/system/info
func (h *SystemHandlers) SystemInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		hostname, _ := os.Hostname()
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		migration := gin.H{"version": nil, "dirty": false}
		var v int64
		var dirty bool
		err := h.db.QueryRowxContext(c.Request.Context(),
			`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&v, &dirty)
		if err == nil {
			migration = gin.H{"version": v, "dirty": dirty}
		}

		c.JSON(http.StatusOK, gin.H{
			"version":     h.version,
			"environment": h.cfg.App.Environment,
			"uptime":      FormatUptime(time.Since(h.startedAt)),
			"started_at":  h.startedAt.UTC().Format(time.RFC3339),
			"runtime": gin.H{
				"go_version":   runtime.Version(),
				"platform":     runtime.GOOS + "/" + runtime.GOARCH,
				"num_cpu":      runtime.NumCPU(),
				"goroutines":   runtime.NumGoroutine(),
				"heap_alloc":   mem.HeapAlloc,
				"heap_sys":     mem.HeapSys,
				"hostname":     hostname,
				"cache":        h.cacheBackend(),
				"storage":      h.storageBackend(),
				"maintenance":  h.maintenanceEnabled(c),
				"rate_limited": h.cfg.Security.RateLimiting.Enabled,
			},
			"database": gin.H{
				"name":      h.cfg.Database.Name,
				"host":      h.cfg.Database.Host,
				"migration": migration,
			},
		})
	}
}

func (h *SystemHandlers) cacheBackend() string {
	if h.cache == nil {
		return "none"
	}
	return h.cache.Backend()
}

func (h *SystemHandlers) storageBackend() string {
	if h.backups == nil {
		return "none"
	}
	return h.backups.Backend()
}

func (h *SystemHandlers) maintenanceEnabled(c *gin.Context) bool {
	if h.maintenance == nil {
		return false
	}
	return h.maintenance.Current(c.Request.Context()).Enabled
}

// @Summary      List cache items
// @Tags         Cache
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "items, count, backend"
// @Router       /api/v1/admin/cache/items [get]
// CacheItemsHandler lists cached entries with size, ttl and hits
// GET /api/v1/admin/cache/items
func (h *SystemHandlers) CacheItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cache == nil {
			c.JSON(http.StatusOK, gin.H{"items": []cache.Item{}, "count": 0, "backend": "none"})
			return
		}
		items, err := h.cache.Items(c.Request.Context())
		if err != nil {
			respondError(c, err, "Failed to list cache items")
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items), "backend": h.cache.Backend()})
	}
}

// ClearCacheRequest is the optional body of POST /admin/cache/clear
type ClearCacheRequest struct {
	Prefix string `json:"prefix"`
}

// @Summary      Clear cache
// @Tags         Cache
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ClearCacheRequest  false  "Key prefix; empty clears everything"
// @Success      200  {object}  map[string]interface{}  "message, cleared"
// @Router       /api/v1/admin/cache/clear [post]
// ClearCacheHandler removes cached entries
// POST /api/v1/admin/cache/clear
func (h *SystemHandlers) ClearCacheHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ClearCacheRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
		}
		if h.cache == nil {
			c.JSON(http.StatusOK, gin.H{"message": "Cache cleared", "cleared": 0})
			return
		}
		n, err := h.cache.Clear(c.Request.Context(), req.Prefix)
		if err != nil {
			respondError(c, err, "Failed to clear cache")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Cache cleared", "cleared": n})
	}
}

// @Summary      Warm cache
// @Description  Precomputes the trade-team overview, volunteer statistics and role catalog.
// @Tags         Cache
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "warmed"
// @Router       /api/v1/admin/cache/warm [post]
// WarmCacheHandler precomputes the read models for the caller's scope
// POST /api/v1/admin/cache/warm
func (h *SystemHandlers) WarmCacheHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		warmed, err := h.views.Warm(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "Failed to warm cache")
			return
		}
		c.JSON(http.StatusOK, gin.H{"warmed": warmed})
	}
}

// @Summary      Get maintenance mode
// @Tags         System
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.MaintenanceMode
// @Router       /api/v1/admin/maintenance [get]
// GetMaintenanceHandler returns the maintenance switch
// GET /api/v1/admin/maintenance
func (h *SystemHandlers) GetMaintenanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var mode models.MaintenanceMode
		if _, err := h.settings.Get(c.Request.Context(), models.SettingMaintenanceMode, &mode); err != nil {
			respondError(c, err, "Failed to load maintenance mode")
			return
		}
		c.JSON(http.StatusOK, mode)
	}
}

// @Summary      Set maintenance mode
// @Description  While enabled, mutating requests from non-admin users get 503.
// @Tags         System
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  models.MaintenanceMode  true  "Maintenance switch"
// @Success      200  {object}  models.MaintenanceMode
// @Router       /api/v1/admin/maintenance [put]
// SetMaintenanceHandler switches maintenance mode
// PUT /api/v1/admin/maintenance
func (h *SystemHandlers) SetMaintenanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var mode models.MaintenanceMode
		if err := c.ShouldBindJSON(&mode); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		mode.Message = strings.TrimSpace(mode.Message)

		ctx := c.Request.Context()
		var old models.MaintenanceMode
		if _, err := h.settings.Get(ctx, models.SettingMaintenanceMode, &old); err != nil {
			respondError(c, err, "Failed to update maintenance mode")
			return
		}
		if err := h.settings.Set(ctx, models.SettingMaintenanceMode, mode, optString(c.GetString("user_id"))); err != nil {
			respondError(c, err, "Failed to update maintenance mode")
			return
		}
		if h.maintenance != nil {
			h.maintenance.Set(mode)
		}

		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionConfigChange,
			Resource:   models.ResourceSystem,
			ResourceID: models.SettingMaintenanceMode,
			OldValues:  old,
			NewValues:  mode,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, mode)
	}
}
