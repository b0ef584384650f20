// Package crewrequests implements the crew change request endpoints: overseers submit requests
// to add or remove volunteers and the personnel team works them to completion.
package crewrequests

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
)

// CrewRequestHandlers handles crew change request endpoints
type CrewRequestHandlers struct {
	requests    *repositories.CrewRequestRepository
	assignments *repositories.RoleAssignmentRepository
	svc         *services.CrewRequestService
}

// NewCrewRequestHandlers creates a new CrewRequestHandlers instance
func NewCrewRequestHandlers(db *sqlx.DB, svc *services.CrewRequestService) *CrewRequestHandlers {
	return &CrewRequestHandlers{
		requests:    repositories.NewCrewRequestRepository(db),
		assignments: repositories.NewRoleAssignmentRepository(db),
		svc:         svc,
	}
}

// SubmitRequest is the body of POST /crew-requests
type SubmitRequest struct {
	RequestType            string  `json:"request_type"`
	VolunteerName          string  `json:"volunteer_name"`
	VolunteerBAID          *string `json:"volunteer_ba_id"`
	TradeTeamID            *string `json:"trade_team_id"`
	CrewID                 *string `json:"crew_id"`
	CrewName               *string `json:"crew_name"`
	ProjectID              *string `json:"project_id"`
	ProjectRosterName      *string `json:"project_roster_name"`
	Comments               *string `json:"comments"`
	OverrideRequestorName  string  `json:"override_requestor_name"`
	OverrideRequestorEmail string  `json:"override_requestor_email"`
}

// UpdateRequest is the body of PATCH /crew-requests/:id
type UpdateRequest struct {
	Status              *string `json:"status"`
	AssignedToID        *string `json:"assigned_to_id"`
	ResolutionNotes     *string `json:"resolution_notes"`
	SendCompletionEmail bool    `json:"send_completion_email"`
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
	case errors.Is(err, services.ErrNoGroup):
		c.JSON(http.StatusForbidden, gin.H{"error": "No construction group assigned"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Only Personnel Contact roles can delete requests"})
	default:
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// RequirePersonnel admits callers with scope or an active personnel contact role
// (PC, PCA, PC-Support) on their linked volunteer record.
func (h *CrewRequestHandlers) RequirePersonnel(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.HasScope(middleware.GetScopes(c), scope) {
			c.Next()
			return
		}
		user := middleware.GetUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		ok, err := h.assignments.UserHoldsRole(c.Request.Context(), user.ID, models.PersonnelRoleCodes)
		if err != nil {
			slog.Error("failed to check personnel roles", "user_id", user.ID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check permissions"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required scope",
				"details": "Required scope: " + string(scope) + " or a personnel contact role",
			})
			return
		}
		c.Next()
	}
}

// @Summary      Submit crew change request
// @Description  Any signed-in user with a construction group may submit. A SUPER_ADMIN may submit on behalf of someone else with both override fields.
// @Tags         Crew Requests
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  SubmitRequest  true  "Request"
// @Success      201  {object}  models.CrewChangeRequest
// @Failure      400  {object}  map[string]interface{}  "Request type and volunteer name are required"
// @Failure      403  {object}  map[string]interface{}  "No construction group assigned"
// @Router       /api/v1/crew-requests [post]
// SubmitHandler records a new crew change request
// POST /api/v1/crew-requests
func (h *CrewRequestHandlers) SubmitHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		cr, err := h.svc.Submit(c.Request.Context(), middleware.GetUser(c), services.CrewRequestInput{
			RequestType:            req.RequestType,
			VolunteerName:          req.VolunteerName,
			VolunteerBAID:          req.VolunteerBAID,
			TradeTeamID:            req.TradeTeamID,
			CrewID:                 req.CrewID,
			CrewName:               req.CrewName,
			ProjectID:              req.ProjectID,
			ProjectRosterName:      req.ProjectRosterName,
			Comments:               req.Comments,
			OverrideRequestorName:  req.OverrideRequestorName,
			OverrideRequestorEmail: req.OverrideRequestorEmail,
		})
		if err != nil {
			respondError(c, err, "Failed to submit request")
			return
		}
		c.JSON(http.StatusCreated, cr)
	}
}

// @Summary      List my crew change requests
// @Tags         Crew Requests
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "requests: []models.CrewChangeRequest"
// @Router       /api/v1/crew-requests/mine [get]
// MyRequestsHandler lists the caller's own submissions
// GET /api/v1/crew-requests/mine
func (h *CrewRequestHandlers) MyRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUser(c)
		list, err := h.requests.ListRequests(c.Request.Context(), repositories.CrewRequestFilters{SubmittedByID: user.ID})
		if err != nil {
			respondError(c, err, "Failed to fetch requests")
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": list, "count": len(list)})
	}
}

// @Summary      List crew change requests
// @Tags         Crew Requests
// @Security     Bearer
// @Produce      json
// @Param        status       query  string  false  "Status filter, ALL for every status"
// @Param        assigned_to  query  string  false  "Assignee user ID, or me"
// @Success      200  {object}  map[string]interface{}  "requests: []models.CrewChangeRequest"
// @Failure      400  {object}  map[string]interface{}  "Invalid status"
// @Router       /api/v1/crew-requests [get]
// ListRequestsHandler lists the requests of the caller's construction group, newest first
// GET /api/v1/crew-requests
func (h *CrewRequestHandlers) ListRequestsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := repositories.CrewRequestFilters{ConstructionGroupID: middleware.CGScope(c)}
		if s := strings.ToUpper(strings.TrimSpace(c.Query("status"))); s != "" && s != "ALL" {
			if !models.IsValidCrewRequestStatus(s) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
				return
			}
			filters.Status = s
		}
		if a := strings.TrimSpace(c.Query("assigned_to")); a != "" {
			if a == "me" {
				a = middleware.GetUser(c).ID
			}
			filters.AssignedToID = a
		}
		list, err := h.requests.ListRequests(c.Request.Context(), filters)
		if err != nil {
			respondError(c, err, "Failed to fetch requests")
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": list, "count": len(list)})
	}
}

// @Summary      Get crew change request
// @Tags         Crew Requests
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Request ID"
// @Success      200  {object}  models.CrewChangeRequest
// @Failure      404  {object}  map[string]interface{}  "Request not found"
// @Router       /api/v1/crew-requests/{id} [get]
// GetRequestHandler returns one request
// GET /api/v1/crew-requests/:id
func (h *CrewRequestHandlers) GetRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cr, err := h.svc.Get(c.Request.Context(), middleware.CGScope(c), c.Param("id"))
		if err != nil {
			respondError(c, err, "Failed to fetch request")
			return
		}
		c.JSON(http.StatusOK, cr)
	}
}

// @Summary      Update crew change request
// @Description  Assigns, changes status or records resolution notes. Completing can email the requestor; a failed email does not fail the update.
// @Tags         Crew Requests
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string         true  "Request ID"
// @Param        body  body  UpdateRequest  true  "Changes"
// @Success      200  {object}  map[string]interface{}  "request, email_sent"
// @Failure      400  {object}  map[string]interface{}  "Invalid status"
// @Failure      404  {object}  map[string]interface{}  "Request not found"
// @Router       /api/v1/crew-requests/{id} [patch]
// UpdateRequestHandler works a request through its lifecycle
// PATCH /api/v1/crew-requests/:id
func (h *CrewRequestHandlers) UpdateRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		cr, sent, err := h.svc.Update(c.Request.Context(), middleware.CGScope(c), middleware.GetUser(c), c.Param("id"),
			services.CrewRequestChange{
				Status:              req.Status,
				AssignedToID:        req.AssignedToID,
				ResolutionNotes:     req.ResolutionNotes,
				SendCompletionEmail: req.SendCompletionEmail,
			})
		if err != nil {
			respondError(c, err, "Failed to update request")
			return
		}
		c.JSON(http.StatusOK, gin.H{"request": cr, "email_sent": sent})
	}
}

// @Summary      Delete crew change request
// @Tags         Crew Requests
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Request ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      403  {object}  map[string]interface{}  "Only Personnel Contact roles can delete requests"
// @Failure      404  {object}  map[string]interface{}  "Request not found"
// @Router       /api/v1/crew-requests/{id} [delete]
// DeleteRequestHandler removes a request
// DELETE /api/v1/crew-requests/:id
func (h *CrewRequestHandlers) DeleteRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.svc.Delete(c.Request.Context(), middleware.CGScope(c), middleware.GetUser(c), c.Param("id")); err != nil {
			respondError(c, err, "Failed to delete request")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Request deleted successfully"})
	}
}
