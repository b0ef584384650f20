package roles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// RoleAssignmentHandlers handles role assignment endpoints
type RoleAssignmentHandlers struct {
	db          *sqlx.DB
	assignments *repositories.RoleAssignmentRepository
	volunteers  *repositories.VolunteerRepository
	roles       *repositories.RoleRepository
	svc         *services.RoleAssignmentService
	views       *services.ReadModels
}

// NewRoleAssignmentHandlers creates a new RoleAssignmentHandlers instance
func NewRoleAssignmentHandlers(db *sqlx.DB, svc *services.RoleAssignmentService, views *services.ReadModels) *RoleAssignmentHandlers {
	return &RoleAssignmentHandlers{
		db:          db,
		assignments: repositories.NewRoleAssignmentRepository(db),
		volunteers:  repositories.NewVolunteerRepository(db),
		roles:       repositories.NewRoleRepository(db),
		svc:         svc,
		views:       views,
	}
}

// BulkAssignRequest is the body of POST /role-assignments/bulk
type BulkAssignRequest struct {
	VolunteerIDs []string `json:"volunteer_ids"`
	services.CreateRoleAssignment
}

// respondError maps a service error to a status. Not-found errors from Create name the volunteer.
func respondError(c *gin.Context, err error, notFound, fallback string) {
	switch {
	case services.IsValidation(err), errors.Is(err, services.ErrRoleLimitReached):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	case services.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrorMessage(err)})
	default:
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// load fetches :id and hides assignments of volunteers outside the caller's group.
func (h *RoleAssignmentHandlers) load(c *gin.Context) (*models.RoleAssignment, bool) {
	a, err := h.assignments.GetAssignment(c.Request.Context(), h.db, c.Param("id"))
	if err != nil {
		respondError(c, err, "", "Failed to retrieve role assignment")
		return nil, false
	}
	if a != nil {
		if scope := middleware.CGScope(c); scope != nil {
			v, err := h.volunteers.GetVolunteer(c.Request.Context(), a.VolunteerID)
			if err != nil {
				respondError(c, err, "", "Failed to retrieve role assignment")
				return nil, false
			}
			if v == nil || v.ConstructionGroupID == nil || *v.ConstructionGroupID != *scope {
				a = nil
			}
		}
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Role assignment not found"})
		return nil, false
	}
	return a, true
}

// @Summary      List role assignments
// @Description  Ordered by created_at descending.
// @Tags         RoleAssignments
// @Security     Bearer
// @Produce      json
// @Param        volunteer_id     query  string  false  "Volunteer"
// @Param        role_id          query  string  false  "Role"
// @Param        scope            query  string  false  "Scope"
// @Param        is_active        query  bool    false  "Active flag"
// @Param        assignment_type  query  string  false  "Assignment type"
// @Param        entity_type      query  string  false  "TRADE_TEAM or CREW"
// @Param        entity_id        query  string  false  "Trade team or crew ID"
// @Success      200  {object}  map[string]interface{}  "data: []models.RoleAssignment, count: int"
// @Router       /api/v1/role-assignments [get]
// ListRoleAssignmentsHandler lists assignments
// GET /api/v1/role-assignments
func (h *RoleAssignmentHandlers) ListRoleAssignmentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f := repositories.RoleAssignmentFilters{
			ConstructionGroupID: middleware.CGScope(c),
			VolunteerID:         c.Query("volunteer_id"),
			RoleID:              c.Query("role_id"),
			Scope:               c.Query("scope"),
			AssignmentType:      c.Query("assignment_type"),
			EntityType:          c.Query("entity_type"),
			EntityID:            c.Query("entity_id"),
		}
		if v := c.Query("is_active"); v != "" {
			active, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "is_active must be true or false"})
				return
			}
			f.IsActive = &active
		}

		list, err := h.assignments.ListAssignments(c.Request.Context(), f)
		if err != nil {
			respondError(c, err, "", "Failed to fetch role assignments")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
	}
}

// @Summary      Create role assignment
// @Description  The first active assignment of a volunteer is always primary. Making an assignment primary clears the flag on the others in the same transaction.
// @Tags         RoleAssignments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  services.CreateRoleAssignment  true  "Assignment"
// @Success      201  {object}  models.RoleAssignment
// @Failure      400  {object}  map[string]interface{}  "Missing fields or inactive role"
// @Failure      404  {object}  map[string]interface{}  "Volunteer not found"
// @Failure      409  {object}  map[string]interface{}  "Duplicate assignment"
// @Router       /api/v1/role-assignments [post]
// CreateRoleAssignmentHandler assigns a role
// POST /api/v1/role-assignments
func (h *RoleAssignmentHandlers) CreateRoleAssignmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.CreateRoleAssignment
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		req.Notes = validation.Notes(req.Notes)

		a, err := h.svc.Create(c.Request.Context(), middleware.ActorFromContext(c), middleware.CGScope(c), req)
		if err != nil {
			respondError(c, err, "Volunteer not found", "Failed to create role assignment")
			return
		}
		middleware.MarkAudited(c)
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusCreated, a)
	}
}

// @Summary      Get role assignment
// @Tags         RoleAssignments
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Role assignment ID"
// @Success      200  {object}  map[string]interface{}  "data: models.RoleAssignment, history: []models.RoleChangeLog"
// @Failure      404  {object}  map[string]interface{}  "Role assignment not found"
// @Router       /api/v1/role-assignments/{id} [get]
// GetRoleAssignmentHandler returns an assignment with its change log
// GET /api/v1/role-assignments/:id
func (h *RoleAssignmentHandlers) GetRoleAssignmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := h.load(c)
		if !ok {
			return
		}
		history, err := h.assignments.ListChangeLogs(c.Request.Context(), a.ID)
		if err != nil {
			respondError(c, err, "", "Failed to fetch role change history")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": a, "history": history})
	}
}

// @Summary      Update role assignment
// @Description  Updates end_date, notes, is_active, consultation_status. is_primary true swaps the primary role.
// @Tags         RoleAssignments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                        true  "Role assignment ID"
// @Param        body  body  services.UpdateRoleAssignment  true  "Fields to change"
// @Success      200  {object}  models.RoleAssignment
// @Failure      404  {object}  map[string]interface{}  "Role assignment not found"
// @Failure      409  {object}  map[string]interface{}  "Primary conflict"
// @Router       /api/v1/role-assignments/{id} [patch]
// UpdateRoleAssignmentHandler updates an assignment
// PATCH /api/v1/role-assignments/:id
func (h *RoleAssignmentHandlers) UpdateRoleAssignmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.UpdateRoleAssignment
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if _, ok := h.load(c); !ok {
			return
		}
		req.Notes = validation.Notes(req.Notes)

		a, err := h.svc.Update(c.Request.Context(), middleware.ActorFromContext(c), c.Param("id"), req)
		if err != nil {
			respondError(c, err, "Role assignment not found", "Failed to update role assignment")
			return
		}
		middleware.MarkAudited(c)
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, a)
	}
}

// @Summary      Delete role assignment
// @Description  Unconditional delete. No other assignment is promoted to primary.
// @Tags         RoleAssignments
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Role assignment ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      404  {object}  map[string]interface{}  "Role assignment not found"
// @Router       /api/v1/role-assignments/{id} [delete]
// DeleteRoleAssignmentHandler deletes an assignment
// DELETE /api/v1/role-assignments/:id
func (h *RoleAssignmentHandlers) DeleteRoleAssignmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.load(c); !ok {
			return
		}
		if err := h.svc.Delete(c.Request.Context(), middleware.ActorFromContext(c), c.Param("id")); err != nil {
			respondError(c, err, "Role assignment not found", "Failed to delete role assignment")
			return
		}
		middleware.MarkAudited(c)
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"message": "Role assignment deleted"})
	}
}

// @Summary      Make primary
// @Tags         RoleAssignments
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Role assignment ID"
// @Success      200  {object}  models.RoleAssignment
// @Failure      400  {object}  map[string]interface{}  "Assignment is inactive"
// @Failure      404  {object}  map[string]interface{}  "Role assignment not found"
// @Router       /api/v1/role-assignments/{id}/primary [post]
// SetPrimaryHandler swaps the volunteer's primary role to :id
// POST /api/v1/role-assignments/:id/primary
func (h *RoleAssignmentHandlers) SetPrimaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.load(c); !ok {
			return
		}
		a, err := h.svc.SetPrimary(c.Request.Context(), middleware.ActorFromContext(c), c.Param("id"))
		if err != nil {
			respondError(c, err, "Role assignment not found", "Failed to set primary role")
			return
		}
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, a)
	}
}

// @Summary      Bulk assign
// @Description  Assigns one role to many volunteers. Each volunteer succeeds or fails on its own.
// @Tags         RoleAssignments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  BulkAssignRequest  true  "Volunteers and assignment template"
// @Success      200  {object}  services.BulkResult
// @Failure      400  {object}  map[string]interface{}  "No volunteers"
// @Router       /api/v1/role-assignments/bulk [post]
// BulkAssignHandler assigns a role to a list of volunteers
// POST /api/v1/role-assignments/bulk
func (h *RoleAssignmentHandlers) BulkAssignHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkAssignRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(req.VolunteerIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "volunteer_ids is required"})
			return
		}
		if len(req.VolunteerIDs) > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "At most 500 volunteers per request"})
			return
		}
		req.Notes = validation.Notes(req.Notes)

		res := h.svc.Bulk(c.Request.Context(), middleware.ActorFromContext(c), middleware.CGScope(c), req.VolunteerIDs, req.CreateRoleAssignment)
		middleware.MarkAudited(c)
		if len(res.Successful) > 0 {
			h.views.InvalidateTeams(c.Request.Context())
		}
		c.JSON(http.StatusOK, res)
	}
}

// @Summary      Role assignment statistics
// @Tags         RoleAssignments
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.RoleAssignmentStats
// @Router       /api/v1/role-assignments/stats [get]
// StatsHandler counts assignments by category, role, type, active and primary
// GET /api/v1/role-assignments/stats
func (h *RoleAssignmentHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.assignments.GetStats(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "", "Failed to compute role assignment statistics")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// HealthCheck is one entry in the module health report
type HealthCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Module health states.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// OverallHealth folds check results: all ok is healthy, more than half ok is degraded.
func OverallHealth(checks []HealthCheck) string {
	ok := 0
	for _, ch := range checks {
		if ch.OK {
			ok++
		}
	}
	switch {
	case ok == len(checks):
		return HealthHealthy
	case ok*2 > len(checks):
		return HealthDegraded
	}
	return HealthUnhealthy
}

// @Summary      Role assignment module health
// @Tags         RoleAssignments
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, checks, timestamp"
// @Failure      503  {object}  map[string]interface{}  "status unhealthy"
// @Router       /api/v1/role-assignments/health [get]
// HealthHandler runs the module checks
// GET /api/v1/role-assignments/health
func (h *RoleAssignmentHandlers) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		targets := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"database", h.db.PingContext},
			{"role_catalog", func(ctx context.Context) error {
				list, err := h.roles.ListRoles(ctx, "", true)
				if err == nil && len(list) == 0 {
					err = errors.New("no active roles")
				}
				return err
			}},
			{"role_assignments", func(ctx context.Context) error {
				_, err := h.assignments.GetStats(ctx, middleware.CGScope(c))
				return err
			}},
		}
		if cc := h.views.Cache(); cc != nil {
			targets = append(targets, struct {
				name string
				fn   func(context.Context) error
			}{"cache", cc.Ping})
		}

		checks := make([]HealthCheck, 0, len(targets))
		for _, p := range targets {
			start := time.Now()
			err := p.fn(ctx)
			ch := HealthCheck{Name: p.name, OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				ch.Error = err.Error()
			}
			checks = append(checks, ch)
		}

		status := OverallHealth(checks)
		code := http.StatusOK
		if status == HealthUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"checks":    checks,
			"timestamp": time.Now().UTC(),
		})
	}
}
