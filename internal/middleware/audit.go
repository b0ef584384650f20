// audit.go provides Gin middleware that records authenticated write operations to the audit
// log. Handlers that write a richer entry themselves (with old and new values) call
// MarkAudited so the request is not recorded twice.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

const ctxAudited = "audited"

// MarkAudited tells AuditMiddleware that the handler already wrote an audit entry.
func MarkAudited(c *gin.Context) {
	c.Set(ctxAudited, true)
}

// resourceBySegment maps the first path segment under /api/v1 to an audit resource.
var resourceBySegment = map[string]string{
	"volunteers":       models.ResourceVolunteer,
	"congregations":    models.ResourceCongregation,
	"projects":         models.ResourceProject,
	"trade-teams":      models.ResourceTradeTeam,
	"roles":            models.ResourceRole,
	"role-assignments": models.ResourceRoleAssignment,
	"assignments":      models.ResourceAssignment,
	"crew-requests":    models.ResourceCrewRequest,
	"feedback":         models.ResourceFeedback,
}

// resourceByAdminSegment maps the segment after /admin.
var resourceByAdminSegment = map[string]string{
	"users":               models.ResourceUser,
	"email":               models.ResourceEmailConfig,
	"backup":              models.ResourceBackup,
	"construction-groups": models.ResourceConstructionGroup,
	"audit":               models.ResourceAuditLog,
	"feedback":            models.ResourceFeedback,
	"announcements":       models.ResourceAnnouncement,
}

// auditTarget derives the resource and resource id from a route template such as
// /api/v1/trade-teams/:id/crews/:crewId.
func auditTarget(c *gin.Context) (resource, resourceID string) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(route, "/api/v1"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return models.ResourceSystem, ""
	}

	if parts[0] == "admin" {
		resource = models.ResourceSystem
		if len(parts) > 1 {
			if r, ok := resourceByAdminSegment[parts[1]]; ok {
				resource = r
			}
		}
	} else {
		resource = resourceBySegment[parts[0]]
		if resource == "" {
			resource = models.ResourceSystem
		}
		if parts[0] == "trade-teams" && len(parts) > 2 && parts[2] == "crews" {
			resource = models.ResourceCrew
		}
	}

	// the deepest path parameter identifies the record
	for i := len(parts) - 1; i >= 0; i-- {
		if strings.HasPrefix(parts[i], ":") {
			resourceID = c.Param(strings.TrimPrefix(parts[i], ":"))
			break
		}
	}
	return resource, resourceID
}

// auditAction maps the method and the trailing path segment to an audit action.
func auditAction(method, path string) string {
	switch {
	case strings.HasSuffix(path, "/import"):
		return models.ActionImport
	case strings.HasSuffix(path, "/export"):
		return models.ActionExport
	case strings.HasSuffix(path, "/invite"):
		return models.ActionInvite
	case strings.HasSuffix(path, "/reset-password"):
		return models.ActionPasswordChange
	}
	switch method {
	case http.MethodPost:
		return models.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return models.ActionUpdate
	case http.MethodDelete:
		return models.ActionDelete
	}
	return models.ActionView
}

// AuditMiddleware records authenticated requests after the handler has run. By default only
// successful writes are recorded; cfg enables reads and failed writes.
func AuditMiddleware(rec *audit.Recorder, cfg config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if rec == nil || !cfg.Enabled || c.Request.Method == http.MethodOptions {
			return
		}
		if c.GetBool(ctxAudited) {
			return
		}
		if GetUser(c) == nil {
			return
		}

		isRead := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		isFailed := c.Writer.Status() >= 400
		if isRead && !cfg.LogReadOperations {
			return
		}
		if isFailed && !cfg.LogFailedRequests {
			return
		}

		resource, resourceID := auditTarget(c)
		rec.RecordAsync(ActorFromContext(c), audit.Event{
			Action:     auditAction(c.Request.Method, c.Request.URL.Path),
			Resource:   resource,
			ResourceID: resourceID,
			Metadata: map[string]interface{}{
				"method":      c.Request.Method,
				"path":        c.Request.URL.Path,
				"status_code": c.Writer.Status(),
				"request_id":  c.GetString(RequestIDKey),
			},
		})
	}
}
