// Package assignments implements the assignment request workflow endpoints.
package assignments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
	"github.com/ldc-construction/ldc-tools/internal/workflow"
)

// AssignmentHandlers handles assignment requests
type AssignmentHandlers struct {
	requests *repositories.AssignmentRepository
	svc      *services.AssignmentService
}

// NewAssignmentHandlers creates a new AssignmentHandlers instance
func NewAssignmentHandlers(db *sqlx.DB, svc *services.AssignmentService) *AssignmentHandlers {
	return &AssignmentHandlers{requests: repositories.NewAssignmentRepository(db), svc: svc}
}

// DecisionRequest is the body of POST /assignments/:id/decision
type DecisionRequest struct {
	Decision string  `json:"decision"`
	Comments *string `json:"comments"`
}

// TransitionRequest is the body of POST /assignments/:id/transition
type TransitionRequest struct {
	To     string  `json:"to"`
	Reason *string `json:"reason"`
}

func respondError(c *gin.Context, err error, fallback string) {
	var te *workflow.TransitionError
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNoCapacity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Crew has no capacity available for the requested period"})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Assignment not found"})
	case errors.Is(err, services.ErrNotApprover):
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not the approver for this step"})
	case errors.As(err, &te):
		allowed := te.Allowed
		if allowed == nil {
			allowed = []string{}
		}
		c.JSON(http.StatusConflict, gin.H{"error": te.Error(), "current_status": te.From, "allowed": allowed})
	case services.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrorMessage(err)})
	default:
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// parseDate accepts RFC 3339 or a bare YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// @Summary      Create assignment request
// @Description  Files a request, reserves crew capacity and opens the first approval step.
// @Tags         Assignments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  services.CreateAssignment  true  "Request"
// @Success      201  {object}  models.AssignmentRequest
// @Failure      400  {object}  map[string]interface{}  "Invalid request or no capacity"
// @Router       /api/v1/assignments [post]
// CreateAssignmentHandler files an assignment request
// POST /api/v1/assignments
func (h *AssignmentHandlers) CreateAssignmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in services.CreateAssignment
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		user := middleware.GetUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		req, err := h.svc.Create(c.Request.Context(), middleware.ActorFromContext(c), user, middleware.CGScope(c), in)
		if err != nil {
			respondError(c, err, "Failed to create assignment request")
			return
		}
		middleware.MarkAudited(c)
		c.JSON(http.StatusCreated, req)
	}
}

// @Summary      List assignment requests
// @Tags         Assignments
// @Security     Bearer
// @Produce      json
// @Param        status           query  string  false  "Status"
// @Param        assignment_type  query  string  false  "emergency, standard or scheduled"
// @Param        crew_id          query  string  false  "Crew ID"
// @Param        mine             query  bool    false  "Only requests filed by the caller"
// @Param        page             query  int     false  "Page number (default 1)"
// @Param        per_page         query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "assignments, pagination"
// @Router       /api/v1/assignments [get]
// ListAssignmentsHandler lists requests in the caller's construction group
// GET /api/v1/assignments?status=&assignment_type=&page=1&per_page=20
func (h *AssignmentHandlers) ListAssignmentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		filters := repositories.AssignmentFilters{
			ConstructionGroupID: middleware.CGScope(c),
			Status:              c.Query("status"),
			AssignmentType:      strings.ToLower(c.Query("assignment_type")),
			CrewID:              c.Query("crew_id"),
		}
		if filters.AssignmentType != "" && !workflow.ValidType(filters.AssignmentType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "assignment_type must be emergency, standard or scheduled"})
			return
		}
		if c.Query("mine") == "true" {
			filters.RequesterID = c.GetString("user_id")
		}

		list, total, err := h.requests.ListRequests(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			respondError(c, err, "Failed to list assignment requests")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"assignments": list,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      Get assignment request
// @Description  The request with its approvals, state changes and history.
// @Tags         Assignments
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Assignment ID"
// @Success      200  {object}  models.AssignmentDetail
// @Failure      404  {object}  map[string]interface{}  "Assignment not found"
// @Router       /api/v1/assignments/{id} [get]
// GetAssignmentHandler returns a request with its workflow records
// GET /api/v1/assignments/:id
func (h *AssignmentHandlers) GetAssignmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := h.requests.GetDetail(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err, "Failed to retrieve assignment request")
			return
		}
		if detail == nil || !inScope(c, detail.ConstructionGroupID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Assignment not found"})
			return
		}
		c.JSON(http.StatusOK, detail)
	}
}

func inScope(c *gin.Context, cg *string) bool {
	scope := middleware.CGScope(c)
	return scope == nil || (cg != nil && *cg == *scope)
}

// visible checks :id against the caller's group before a write.
func (h *AssignmentHandlers) visible(c *gin.Context) bool {
	req, err := h.requests.GetRequest(c.Request.Context(), h.requests.DB(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve assignment request")
		return false
	}
	if req == nil || !inScope(c, req.ConstructionGroupID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Assignment not found"})
		return false
	}
	return true
}

// @Summary      Decide approval step
// @Description  Approves or rejects the pending step. The caller must hold the approval.
// @Tags         Assignments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string           true  "Assignment ID"
// @Param        body  body  DecisionRequest  true  "approve or reject"
// @Success      200  {object}  models.AssignmentRequest
// @Failure      403  {object}  map[string]interface{}  "Not the approver"
// @Failure      409  {object}  map[string]interface{}  "Not pending"
// @Router       /api/v1/assignments/{id}/decision [post]
// DecisionHandler records an approval decision
// POST /api/v1/assignments/:id/decision
func (h *AssignmentHandlers) DecisionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body DecisionRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		user := middleware.GetUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !h.visible(c) {
			return
		}
		req, err := h.svc.Decide(c.Request.Context(), middleware.ActorFromContext(c), user, c.Param("id"), body.Decision, body.Comments)
		if err != nil {
			respondError(c, err, "Failed to record decision")
			return
		}
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, req)
	}
}

// @Summary      Move assignment request
// @Description  Post-approval moves such as schedule, start, complete and cancel. Cancel releases capacity.
// @Tags         Assignments
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string             true  "Assignment ID"
// @Param        body  body  TransitionRequest  true  "Target status"
// @Success      200  {object}  models.AssignmentRequest
// @Failure      409  {object}  map[string]interface{}  "Invalid transition, with allowed targets"
// @Router       /api/v1/assignments/{id}/transition [post]
// TransitionHandler moves a request along its transition table
// POST /api/v1/assignments/:id/transition
func (h *AssignmentHandlers) TransitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body TransitionRequest
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.To) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to is required"})
			return
		}
		if !h.visible(c) {
			return
		}
		req, err := h.svc.Transition(c.Request.Context(), middleware.ActorFromContext(c), c.Param("id"),
			strings.ToLower(strings.TrimSpace(body.To)), body.Reason)
		if err != nil {
			respondError(c, err, "Failed to change status")
			return
		}
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, req)
	}
}

// @Summary      Crew capacity
// @Tags         Assignments
// @Security     Bearer
// @Produce      json
// @Param        crew_id  query  string  true   "Crew ID"
// @Param        start    query  string  true   "Start (RFC 3339 or YYYY-MM-DD)"
// @Param        end      query  string  false  "End; defaults to start + 8h"
// @Success      200  {object}  services.CapacityCheck
// @Router       /api/v1/assignments/capacity [get]
// CapacityHandler reports the confirmed allocation and free share of a crew
// GET /api/v1/assignments/capacity?crew_id=&start=&end=
func (h *AssignmentHandlers) CapacityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		crewID := c.Query("crew_id")
		if crewID == "" || c.Query("start") == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "crew_id and start are required"})
			return
		}
		start, err := parseDate(c.Query("start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date"})
			return
		}
		var end *time.Time
		if s := c.Query("end"); s != "" {
			t, err := parseDate(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date"})
				return
			}
			if t.Before(start) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "end must not be before start"})
				return
			}
			end = &t
		}

		check, err := h.svc.Capacity(c.Request.Context(), middleware.CGScope(c), crewID, start, end)
		if err != nil {
			respondError(c, err, "Failed to compute capacity")
			return
		}
		c.JSON(http.StatusOK, check)
	}
}

// @Summary      Assignment statistics
// @Tags         Assignments
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.AssignmentStats
// @Router       /api/v1/assignments/stats [get]
// StatsHandler counts requests by status and type
// GET /api/v1/assignments/stats
func (h *AssignmentHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.requests.GetStats(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "Failed to compute assignment statistics")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
