package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// captureWriter collects audit rows via a buffered channel.
type captureWriter struct {
	mu sync.Mutex
	ch chan *models.AuditLog
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{ch: make(chan *models.AuditLog, 8)}
}

func (w *captureWriter) CreateAuditLog(_ context.Context, _ sqlx.ExtContext, l *models.AuditLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ch <- l
	return nil
}

func (w *captureWriter) wait(t *testing.T) *models.AuditLog {
	t.Helper()
	select {
	case l := <-w.ch:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit log entry")
		return nil
	}
}

func (w *captureWriter) expectNone(t *testing.T) {
	t.Helper()
	select {
	case l := <-w.ch:
		t.Fatalf("unexpected audit entry %s %s", l.Action, l.Resource)
	case <-time.After(50 * time.Millisecond):
	}
}

var auditOn = config.AuditConfig{Enabled: true}

// newAuditRouter wires a fake identity ahead of AuditMiddleware.
func newAuditRouter(w audit.Writer, cfg config.AuditConfig, authed bool) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if authed {
			setIdentity(c, testUser(models.RoleAdmin))
		}
	})
	r.Use(AuditMiddleware(audit.NewRecorder(w, nil), cfg))

	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/api/v1/volunteers", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.PUT("/api/v1/trade-teams/:id/crews/:crewId", ok)
	r.DELETE("/api/v1/admin/users/:id", ok)
	r.POST("/api/v1/volunteers/import", ok)
	r.GET("/api/v1/volunteers", ok)
	r.POST("/api/v1/roles", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.PATCH("/api/v1/assignments/:id", func(c *gin.Context) {
		MarkAudited(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestAuditMiddleware_RecordsWrites(t *testing.T) {
	tests := []struct {
		method, path         string
		action, resource, id string
	}{
		{http.MethodPost, "/api/v1/volunteers", models.ActionCreate, models.ResourceVolunteer, ""},
		{http.MethodPut, "/api/v1/trade-teams/tt-1/crews/crew-7", models.ActionUpdate, models.ResourceCrew, "crew-7"},
		{http.MethodDelete, "/api/v1/admin/users/u-3", models.ActionDelete, models.ResourceUser, "u-3"},
		{http.MethodPost, "/api/v1/volunteers/import", models.ActionImport, models.ResourceVolunteer, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := newCaptureWriter()
			serve(newAuditRouter(w, auditOn, true), httptest.NewRequest(tt.method, tt.path, nil))

			l := w.wait(t)
			if l.Action != tt.action || l.Resource != tt.resource {
				t.Errorf("got %s %s, want %s %s", l.Action, l.Resource, tt.action, tt.resource)
			}
			gotID := ""
			if l.ResourceID != nil {
				gotID = *l.ResourceID
			}
			if gotID != tt.id {
				t.Errorf("resource id = %q, want %q", gotID, tt.id)
			}
			if l.UserID == nil || *l.UserID != "user-1" {
				t.Errorf("user id = %v, want user-1", l.UserID)
			}
		})
	}
}

func TestAuditMiddleware_Skips(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.AuditConfig
		authed bool
		method string
		path   string
	}{
		{"disabled", config.AuditConfig{}, true, http.MethodPost, "/api/v1/volunteers"},
		{"anonymous", auditOn, false, http.MethodPost, "/api/v1/volunteers"},
		{"read", auditOn, true, http.MethodGet, "/api/v1/volunteers"},
		{"failed", auditOn, true, http.MethodPost, "/api/v1/roles"},
		{"handler audited", auditOn, true, http.MethodPatch, "/api/v1/assignments/a-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newCaptureWriter()
			serve(newAuditRouter(w, tt.cfg, tt.authed), httptest.NewRequest(tt.method, tt.path, nil))
			w.expectNone(t)
		})
	}
}

func TestAuditMiddleware_OptionalReadsAndFailures(t *testing.T) {
	cfg := config.AuditConfig{Enabled: true, LogReadOperations: true, LogFailedRequests: true}

	w := newCaptureWriter()
	serve(newAuditRouter(w, cfg, true), httptest.NewRequest(http.MethodGet, "/api/v1/volunteers", nil))
	if l := w.wait(t); l.Action != models.ActionView {
		t.Errorf("action = %s, want VIEW", l.Action)
	}

	w = newCaptureWriter()
	serve(newAuditRouter(w, cfg, true), httptest.NewRequest(http.MethodPost, "/api/v1/roles", nil))
	l := w.wait(t)
	if md := l.Metadata.Map(); md["status_code"] != float64(http.StatusBadRequest) {
		t.Errorf("metadata = %v, want status_code 400", md)
	}
}

func TestAuditAction(t *testing.T) {
	tests := []struct{ method, path, want string }{
		{http.MethodGet, "/api/v1/volunteers/export", models.ActionExport},
		{http.MethodPost, "/api/v1/admin/users/invite", models.ActionInvite},
		{http.MethodPost, "/api/v1/admin/users/u/reset-password", models.ActionPasswordChange},
		{http.MethodPatch, "/api/v1/roles/r", models.ActionUpdate},
		{http.MethodHead, "/api/v1/roles", models.ActionView},
	}
	for _, tt := range tests {
		if got := auditAction(tt.method, tt.path); got != tt.want {
			t.Errorf("auditAction(%s %s) = %s, want %s", tt.method, tt.path, got, tt.want)
		}
	}
}
