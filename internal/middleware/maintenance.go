// maintenance.go provides middleware that rejects writes from non-admin users while
// maintenance mode is switched on. The flag lives in system_settings and is re-read at
// most once per refresh interval.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// SettingsReader reads a system setting. *repositories.SettingsRepository satisfies it.
type SettingsReader interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
}

// MaintenanceState caches the maintenance_mode setting
type MaintenanceState struct {
	settings SettingsReader
	refresh  time.Duration

	mu       sync.Mutex
	mode     models.MaintenanceMode
	loadedAt time.Time
	now      func() time.Time
}

// NewMaintenanceState creates a MaintenanceState that re-reads settings after refresh.
func NewMaintenanceState(settings SettingsReader, refresh time.Duration) *MaintenanceState {
	return &MaintenanceState{settings: settings, refresh: refresh, now: time.Now}
}

// Current returns the cached mode, reloading it when stale. On a read error the last
// known value is kept.
func (m *MaintenanceState) Current(ctx context.Context) models.MaintenanceMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loadedAt.IsZero() && m.now().Sub(m.loadedAt) < m.refresh {
		return m.mode
	}
	var mode models.MaintenanceMode
	found, err := m.settings.Get(ctx, models.SettingMaintenanceMode, &mode)
	if err != nil {
		slog.Warn("failed to read maintenance mode", "error", err)
		return m.mode
	}
	if !found {
		mode = models.MaintenanceMode{}
	}
	m.mode = mode
	m.loadedAt = m.now()
	return m.mode
}

// Set replaces the cached mode after the admin handler has saved it.
func (m *MaintenanceState) Set(mode models.MaintenanceMode) {
	m.mu.Lock()
	m.mode = mode
	m.loadedAt = m.now()
	m.mu.Unlock()
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// MaintenanceMiddleware returns 503 for mutating requests from non-admin users while
// maintenance mode is on. It must run after AuthMiddleware.
func MaintenanceMiddleware(state *MaintenanceState) gin.HandlerFunc {
	return func(c *gin.Context) {
		if state == nil || !isMutating(c.Request.Method) {
			c.Next()
			return
		}
		if u := GetUser(c); u != nil && u.IsAdmin() {
			c.Next()
			return
		}
		mode := state.Current(c.Request.Context())
		if !mode.Enabled {
			c.Next()
			return
		}
		msg := mode.Message
		if msg == "" {
			msg = "The system is under maintenance. Please try again later."
		}
		c.Header("Retry-After", "300")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": msg, "maintenance": true})
	}
}
