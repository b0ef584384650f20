package teams

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
)

// OversightRequest is the body of POST .../oversight. Either id names the volunteer;
// user_id is resolved through the volunteer linked to that login.
type OversightRequest struct {
	UserID      string `json:"user_id"`
	VolunteerID string `json:"volunteer_id"`
	Role        string `json:"role"`
}

// OversightUpdateRequest is the body of PATCH .../oversight/:oversightId
type OversightUpdateRequest struct {
	IsActive *bool      `json:"is_active"`
	EndDate  *time.Time `json:"end_date"`
}

// entity resolves the team or crew an oversight route addresses.
type entity func(c *gin.Context) (entityType, id string, ok bool)

func (h *TradeTeamHandlers) teamEntity(c *gin.Context) (string, string, bool) {
	team, ok := h.loadTeam(c)
	if !ok {
		return "", "", false
	}
	return models.EntityTradeTeam, team.ID, true
}

func (h *TradeTeamHandlers) crewEntity(c *gin.Context) (string, string, bool) {
	crew, ok := h.loadCrew(c)
	if !ok {
		return "", "", false
	}
	return models.EntityCrew, crew.ID, true
}

// resolveVolunteer returns the volunteer id for an oversight request.
func (h *TradeTeamHandlers) resolveVolunteer(c *gin.Context, req OversightRequest) (string, bool) {
	if req.VolunteerID != "" || req.UserID == "" {
		return req.VolunteerID, true
	}
	v, err := h.volunteers.GetVolunteerByUserID(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, err, "", "Failed to resolve volunteer")
		return "", false
	}
	if v == nil {
		// the id may already be a volunteer id from older clients
		return req.UserID, true
	}
	return v.ID, true
}

// @Summary      List trade team oversight
// @Description  Active oversight positions grouped by role code, with the per-role limits.
// @Tags         Oversight
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Trade team ID"
// @Success      200  {object}  services.OversightView
// @Failure      404  {object}  map[string]interface{}  "Trade team not found"
// @Router       /api/v1/trade-teams/{id}/oversight [get]
// ListTeamOversightHandler lists a team's oversight
// GET /api/v1/trade-teams/:id/oversight
func (h *TradeTeamHandlers) ListTeamOversightHandler() gin.HandlerFunc {
	return h.listOversight(h.teamEntity)
}

// ListCrewOversightHandler lists a crew's oversight
// GET /api/v1/trade-teams/:id/crews/:crewId/oversight
func (h *TradeTeamHandlers) ListCrewOversightHandler() gin.HandlerFunc {
	return h.listOversight(h.crewEntity)
}

func (h *TradeTeamHandlers) listOversight(resolve entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, id, ok := resolve(c)
		if !ok {
			return
		}
		view, err := h.roles.ListOversight(c.Request.Context(), et, id)
		if err != nil {
			respondError(c, err, "", "Failed to list oversight")
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// @Summary      Add trade team oversight
// @Description  TTO allows 1 holder, TTOA 2, TT_SUPPORT is unlimited.
// @Tags         Oversight
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Trade team ID"
// @Param        body  body  OversightRequest  true  "Volunteer and role"
// @Success      201  {object}  models.RoleAssignment
// @Failure      400  {object}  map[string]interface{}  "Invalid role or limit reached"
// @Failure      404  {object}  map[string]interface{}  "Volunteer not found"
// @Failure      409  {object}  map[string]interface{}  "Already assigned"
// @Router       /api/v1/trade-teams/{id}/oversight [post]
// AddTeamOversightHandler places a volunteer in a team oversight position
// POST /api/v1/trade-teams/:id/oversight
func (h *TradeTeamHandlers) AddTeamOversightHandler() gin.HandlerFunc {
	return h.addOversight(h.teamEntity)
}

// AddCrewOversightHandler places a volunteer in a crew oversight position
// POST /api/v1/trade-teams/:id/crews/:crewId/oversight
func (h *TradeTeamHandlers) AddCrewOversightHandler() gin.HandlerFunc {
	return h.addOversight(h.crewEntity)
}

func (h *TradeTeamHandlers) addOversight(resolve entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OversightRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		et, id, ok := resolve(c)
		if !ok {
			return
		}
		volunteerID, ok := h.resolveVolunteer(c, req)
		if !ok {
			return
		}

		a, err := h.roles.AddOversight(c.Request.Context(), middleware.ActorFromContext(c), middleware.CGScope(c),
			et, id, volunteerID, strings.ToUpper(strings.TrimSpace(req.Role)))
		if err != nil {
			respondError(c, err, "Volunteer not found", "Failed to add oversight")
			return
		}
		middleware.MarkAudited(c)
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusCreated, a)
	}
}

// @Summary      Update trade team oversight
// @Tags         Oversight
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id           path  string                  true  "Trade team ID"
// @Param        oversightId  path  string                  true  "Oversight assignment ID"
// @Param        body         body  OversightUpdateRequest  true  "Fields to change"
// @Success      200  {object}  models.RoleAssignment
// @Failure      404  {object}  map[string]interface{}  "Oversight not found"
// @Router       /api/v1/trade-teams/{id}/oversight/{oversightId} [patch]
// UpdateTeamOversightHandler changes is_active or end_date of a team position
// PATCH /api/v1/trade-teams/:id/oversight/:oversightId
func (h *TradeTeamHandlers) UpdateTeamOversightHandler() gin.HandlerFunc {
	return h.updateOversight(h.teamEntity)
}

// UpdateCrewOversightHandler changes is_active or end_date of a crew position
// PATCH /api/v1/trade-teams/:id/crews/:crewId/oversight/:oversightId
func (h *TradeTeamHandlers) UpdateCrewOversightHandler() gin.HandlerFunc {
	return h.updateOversight(h.crewEntity)
}

func (h *TradeTeamHandlers) updateOversight(resolve entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OversightUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		et, id, ok := resolve(c)
		if !ok {
			return
		}
		existing, err := h.roles.GetOversight(c.Request.Context(), et, id, c.Param("oversightId"))
		if err != nil {
			respondError(c, err, "", "Failed to retrieve oversight")
			return
		}
		if existing == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Oversight not found"})
			return
		}

		a, err := h.roles.Update(c.Request.Context(), middleware.ActorFromContext(c), existing.ID,
			services.UpdateRoleAssignment{IsActive: req.IsActive, EndDate: req.EndDate})
		if err != nil {
			respondError(c, err, "Oversight not found", "Failed to update oversight")
			return
		}
		middleware.MarkAudited(c)
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, a)
	}
}

// @Summary      Remove trade team oversight
// @Description  Ends the position: is_active false and end_date now.
// @Tags         Oversight
// @Security     Bearer
// @Produce      json
// @Param        id           path  string  true  "Trade team ID"
// @Param        oversightId  path  string  true  "Oversight assignment ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      404  {object}  map[string]interface{}  "Oversight not found"
// @Router       /api/v1/trade-teams/{id}/oversight/{oversightId} [delete]
// EndTeamOversightHandler ends a team position
// DELETE /api/v1/trade-teams/:id/oversight/:oversightId
func (h *TradeTeamHandlers) EndTeamOversightHandler() gin.HandlerFunc {
	return h.endOversight(h.teamEntity)
}

// EndCrewOversightHandler ends a crew position
// DELETE /api/v1/trade-teams/:id/crews/:crewId/oversight/:oversightId
func (h *TradeTeamHandlers) EndCrewOversightHandler() gin.HandlerFunc {
	return h.endOversight(h.crewEntity)
}

func (h *TradeTeamHandlers) endOversight(resolve entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, id, ok := resolve(c)
		if !ok {
			return
		}
		err := h.roles.EndOversight(c.Request.Context(), middleware.ActorFromContext(c), et, id, c.Param("oversightId"))
		if err != nil {
			respondError(c, err, "Oversight not found", "Failed to remove oversight")
			return
		}
		middleware.MarkAudited(c)
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"message": "Oversight removed"})
	}
}
