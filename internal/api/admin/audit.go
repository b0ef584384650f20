// audit.go implements the audit log listing, CSV export and statistics handlers.
package admin

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
)

// maxAuditExport bounds a single CSV export.
const maxAuditExport = 50000

// AuditHandlers handles audit log endpoints
type AuditHandlers struct {
	repo *repositories.AuditRepository
	rec  *audit.Recorder
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(db *sqlx.DB, rec *audit.Recorder) *AuditHandlers {
	return &AuditHandlers{repo: repositories.NewAuditRepository(db), rec: rec}
}

// auditLogEntry is one row of the listing
type auditLogEntry struct {
	*models.AuditLogView
	UserName string `json:"userName"`
}

func auditFilters(c *gin.Context) (repositories.AuditFilters, error) {
	f := repositories.AuditFilters{
		UserID:   c.Query("user_id"),
		Action:   strings.ToUpper(strings.TrimSpace(c.Query("action"))),
		Resource: strings.ToUpper(strings.TrimSpace(c.Query("resource"))),
		Search:   strings.TrimSpace(c.Query("search")),

		ConstructionGroupID: middleware.CGScope(c),
	}
	from, err := parseDay(c.Query("date_from"), false)
	if err != nil {
		return f, fmt.Errorf("invalid date_from")
	}
	to, err := parseDay(c.Query("date_to"), true)
	if err != nil {
		return f, fmt.Errorf("invalid date_to")
	}
	f.DateFrom, f.DateTo = from, to
	return f, nil
}

// @Summary      List audit logs
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        limit      query  int     false  "Max results (default 50, max 500)"
// @Param        offset     query  int     false  "Offset"
// @Param        action     query  string  false  "Action filter"
// @Param        resource   query  string  false  "Resource filter"
// @Param        user_id    query  string  false  "Acting user"
// @Param        date_from  query  string  false  "Start date (YYYY-MM-DD or RFC3339)"
// @Param        date_to    query  string  false  "End date, inclusive"
// @Param        search     query  string  false  "Matches action, resource or resource id"
// @Success      200  {object}  map[string]interface{}  "logs, total, limit, offset, timestamp"
// @Router       /api/v1/admin/audit/logs [get]
// ListAuditLogsHandler lists audit entries newest first
// GET /api/v1/admin/audit/logs
func (h *AuditHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := auditFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		limit, offset := limitOffset(c, 50, 500)

		logs, total, err := h.repo.ListAuditLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			respondError(c, err, "Failed to list audit logs")
			return
		}
		entries := make([]auditLogEntry, len(logs))
		for i, l := range logs {
			entries[i] = auditLogEntry{AuditLogView: l, UserName: l.DisplayUser()}
		}
		c.JSON(http.StatusOK, gin.H{
			"logs":      entries,
			"total":     total,
			"limit":     limit,
			"offset":    offset,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

var auditCSVHeader = []string{
	"Timestamp", "User Name", "User Email", "User Role", "Action", "Resource",
	"Resource ID", "Construction Group", "IP Address", "User Agent", "Metadata",
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// @Summary      Export audit logs
// @Description  CSV export using the same filters as the listing.
// @Tags         Audit
// @Security     Bearer
// @Produce      text/csv
// @Success      200  {string}  string  "CSV"
// @Router       /api/v1/admin/audit/export [get]
// ExportAuditLogsHandler streams the filtered audit log as CSV. Requires SUPER_ADMIN.
// GET /api/v1/admin/audit/export
func (h *AuditHandlers) ExportAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := auditFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx := c.Request.Context()
		logs, err := h.repo.ExportAuditLogs(ctx, filters, maxAuditExport)
		if err != nil {
			respondError(c, err, "Failed to export audit logs")
			return
		}

		name := fmt.Sprintf("audit-logs-%s.csv", time.Now().Format("2006-01-02"))
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		c.Status(http.StatusOK)

		w := csv.NewWriter(c.Writer)
		_ = w.Write(auditCSVHeader)
		for _, l := range logs {
			var metadata string
			if len(l.Metadata) > 0 && string(l.Metadata) != "null" {
				metadata = string(l.Metadata)
			}
			_ = w.Write([]string{
				l.Timestamp.UTC().Format(time.RFC3339),
				l.DisplayUser(),
				str(l.UserEmail),
				str(l.UserRole),
				l.Action,
				l.Resource,
				str(l.ResourceID),
				str(l.CGName),
				str(l.IPAddress),
				str(l.UserAgent),
				metadata,
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			slog.Error("failed to write audit export", "error", err)
		}

		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:   models.ActionExport,
			Resource: models.ResourceAuditLog,
			Metadata: map[string]interface{}{"rows": len(logs)},
		})
		middleware.MarkAudited(c)
	}
}

// @Summary      Audit statistics
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.AuditStats
// @Router       /api/v1/admin/audit/stats [get]
// AuditStatsHandler returns counts by action, by resource and for the last 24 hours
// GET /api/v1/admin/audit/stats
func (h *AuditHandlers) AuditStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.repo.GetStats(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "Failed to load audit statistics")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
