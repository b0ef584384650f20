package admin

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/cache"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "Just started"},
		{time.Minute, "1 minute"},
		{2*time.Hour + 5*time.Minute, "2 hours, 5 minutes"},
		{24 * time.Hour, "1 day"},
		{3*24*time.Hour + time.Hour + time.Minute, "3 days, 1 hour, 1 minute"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUptime(tt.in), tt.in.String())
	}
}

func TestOverallStatus(t *testing.T) {
	healthy := HealthCheck{Name: "database", Status: StatusHealthy}
	assert.Equal(t, StatusHealthy, overallStatus([]HealthCheck{healthy, {Name: "redis", Status: StatusNotConfigured}}))
	assert.Equal(t, StatusDegraded, overallStatus([]HealthCheck{healthy, {Name: "storage", Status: StatusUnhealthy}}))
	assert.Equal(t, StatusUnhealthy, overallStatus([]HealthCheck{
		{Name: "database", Status: StatusUnhealthy}, {Name: "storage", Status: StatusHealthy},
	}))
}

type systemFixture struct {
	mock  sqlmock.Sqlmock
	r     *gin.Engine
	cache *cache.MemoryCache
	state *middleware.MaintenanceState
}

func newSystemRouter(t *testing.T) *systemFixture {
	t.Helper()
	db, mock := newMockDB(t, sqlmock.MonitorPingsOption(true))
	mem := cache.NewMemoryCache(0)
	state := middleware.NewMaintenanceState(repositories.NewSettingsRepository(db), time.Hour)
	h := NewSystemHandlers(&config.Config{}, db, SystemDeps{
		Cache:       mem,
		Maintenance: state,
		Recorder:    newRecorder(db),
		Version:     "1.2.3",
		StartedAt:   time.Now().Add(-90 * time.Minute),
	})

	r := gin.New()
	r.Use(asUser(testUser("root", models.RoleSuperAdmin, "")))
	r.GET("/health/status", h.HealthStatusHandler())
	r.GET("/cache/items", h.CacheItemsHandler())
	r.POST("/cache/clear", h.ClearCacheHandler())
	r.GET("/maintenance", h.GetMaintenanceHandler())
	r.PUT("/maintenance", h.SetMaintenanceHandler())
	return &systemFixture{mock: mock, r: r, cache: mem, state: state}
}

func checkByName(t *testing.T, body map[string]interface{}, name string) map[string]interface{} {
	t.Helper()
	for _, raw := range body["checks"].([]interface{}) {
		hc := raw.(map[string]interface{})
		if hc["name"] == name {
			return hc
		}
	}
	t.Fatalf("no %s check", name)
	return nil
}

func TestHealthStatus(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newSystemRouter(t)
		f.mock.ExpectPing()
		w := do(f.r, http.MethodGet, "/health/status", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, StatusHealthy, body["status"])
		assert.Equal(t, "1 hour, 30 minutes", body["uptime"])
		assert.Equal(t, StatusHealthy, checkByName(t, body, "database")["status"])
		assert.Equal(t, StatusNotConfigured, checkByName(t, body, "redis")["status"])
		assert.Equal(t, StatusNotConfigured, checkByName(t, body, "email")["status"])
	})

	t.Run("database down", func(t *testing.T) {
		f := newSystemRouter(t)
		f.mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		w := do(f.r, http.MethodGet, "/health/status", nil)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decode(t, w)
		assert.Equal(t, StatusUnhealthy, body["status"])
		assert.Equal(t, "connection refused", checkByName(t, body, "database")["message"])
	})
}

func TestCacheItemsAndClear(t *testing.T) {
	f := newSystemRouter(t)
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, cache.KeyRoleCatalog, []string{"CO-1"}, time.Minute))
	require.NoError(t, f.cache.Set(ctx, cache.KeyVolunteerStats+"cg-1", map[string]int{"total": 3}, time.Minute))
	require.NoError(t, f.cache.Set(ctx, cache.KeyVolunteerStats+"cg-2", map[string]int{"total": 4}, time.Minute))

	w := do(f.r, http.MethodGet, "/cache/items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 3.0, body["count"])
	assert.Equal(t, "memory", body["backend"])

	w = do(f.r, http.MethodPost, "/cache/clear", map[string]string{"prefix": cache.KeyVolunteerStats})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["cleared"])

	w = do(f.r, http.MethodPost, "/cache/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, decode(t, w)["cleared"])
}

func TestSetMaintenance(t *testing.T) {
	f := newSystemRouter(t)
	f.mock.ExpectQuery("SELECT value FROM system_settings").WithArgs(models.SettingMaintenanceMode).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	f.mock.ExpectExec("INSERT INTO system_settings").
		WithArgs(models.SettingMaintenanceMode, []byte(`{"enabled":true,"message":"Upgrading"}`), "root").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(f.mock)

	w := do(f.r, http.MethodPut, "/maintenance", map[string]interface{}{"enabled": true, "message": "  Upgrading "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["enabled"])

	// the in-process state is updated without another settings read
	mode := f.state.Current(context.Background())
	assert.True(t, mode.Enabled)
	assert.Equal(t, "Upgrading", mode.Message)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
