package teams

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// CrewRequest is the body of crew create and update
type CrewRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// @Summary      List crews
// @Tags         Crews
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Trade team ID"
// @Success      200  {object}  map[string]interface{}  "crews: []models.Crew"
// @Failure      404  {object}  map[string]interface{}  "Trade team not found"
// @Router       /api/v1/trade-teams/{id}/crews [get]
// ListCrewsHandler lists the crews of a team
// GET /api/v1/trade-teams/:id/crews
func (h *TradeTeamHandlers) ListCrewsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		team, ok := h.loadTeam(c)
		if !ok {
			return
		}
		crews, err := h.teams.ListCrews(c.Request.Context(), team.ID)
		if err != nil {
			respondError(c, err, "", "Failed to list crews")
			return
		}
		c.JSON(http.StatusOK, gin.H{"crews": crews, "count": len(crews)})
	}
}

// @Summary      Create crew
// @Tags         Crews
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string       true  "Trade team ID"
// @Param        body  body  CrewRequest  true  "Crew"
// @Success      201  {object}  models.Crew
// @Failure      400  {object}  map[string]interface{}  "Name is required"
// @Failure      409  {object}  map[string]interface{}  "Name already exists in this team"
// @Router       /api/v1/trade-teams/{id}/crews [post]
// CreateCrewHandler creates a crew. Names are unique within a team.
// POST /api/v1/trade-teams/:id/crews
func (h *TradeTeamHandlers) CreateCrewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CrewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
			return
		}
		team, ok := h.loadTeam(c)
		if !ok {
			return
		}

		crew := &models.Crew{
			TradeTeamID: team.ID,
			Name:        validation.Text(*req.Name),
			Description: validation.Notes(req.Description),
			IsActive:    true,
		}
		if req.IsActive != nil {
			crew.IsActive = *req.IsActive
		}
		if err := h.teams.CreateCrew(c.Request.Context(), h.db, crew); err != nil {
			respondError(c, err, "", "Failed to create crew")
			return
		}
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusCreated, crew)
	}
}

// loadCrew fetches :crewId within :id.
func (h *TradeTeamHandlers) loadCrew(c *gin.Context) (*models.Crew, bool) {
	team, ok := h.loadTeam(c)
	if !ok {
		return nil, false
	}
	crew, err := h.teams.GetCrew(c.Request.Context(), team.ID, c.Param("crewId"))
	if err != nil {
		respondError(c, err, "", "Failed to retrieve crew")
		return nil, false
	}
	if crew == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Crew not found"})
		return nil, false
	}
	return crew, true
}

// @Summary      Get crew
// @Tags         Crews
// @Security     Bearer
// @Produce      json
// @Param        id      path  string  true  "Trade team ID"
// @Param        crewId  path  string  true  "Crew ID"
// @Success      200  {object}  models.Crew
// @Failure      404  {object}  map[string]interface{}  "Crew not found"
// @Router       /api/v1/trade-teams/{id}/crews/{crewId} [get]
// GetCrewHandler returns a crew
// GET /api/v1/trade-teams/:id/crews/:crewId
func (h *TradeTeamHandlers) GetCrewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		crew, ok := h.loadCrew(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, crew)
	}
}

// @Summary      Update crew
// @Tags         Crews
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id      path  string       true  "Trade team ID"
// @Param        crewId  path  string       true  "Crew ID"
// @Param        body    body  CrewRequest  true  "Fields to change"
// @Success      200  {object}  models.Crew
// @Failure      404  {object}  map[string]interface{}  "Crew not found"
// @Router       /api/v1/trade-teams/{id}/crews/{crewId} [patch]
// UpdateCrewHandler updates a crew
// PATCH /api/v1/trade-teams/:id/crews/:crewId
func (h *TradeTeamHandlers) UpdateCrewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CrewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		crew, ok := h.loadCrew(c)
		if !ok {
			return
		}
		if req.Name != nil {
			if strings.TrimSpace(*req.Name) == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Name cannot be empty"})
				return
			}
			crew.Name = validation.Text(*req.Name)
		}
		if req.Description != nil {
			crew.Description = validation.Notes(req.Description)
		}
		if req.IsActive != nil {
			crew.IsActive = *req.IsActive
		}
		if err := h.teams.UpdateCrew(c.Request.Context(), crew); err != nil {
			respondError(c, err, "", "Failed to update crew")
			return
		}
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, crew)
	}
}

// @Summary      Delete crew
// @Tags         Crews
// @Security     Bearer
// @Produce      json
// @Param        id      path  string  true  "Trade team ID"
// @Param        crewId  path  string  true  "Crew ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      404  {object}  map[string]interface{}  "Crew not found"
// @Router       /api/v1/trade-teams/{id}/crews/{crewId} [delete]
// DeleteCrewHandler deletes a crew
// DELETE /api/v1/trade-teams/:id/crews/:crewId
func (h *TradeTeamHandlers) DeleteCrewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		crew, ok := h.loadCrew(c)
		if !ok {
			return
		}
		if err := h.teams.DeleteCrew(c.Request.Context(), crew.ID); err != nil {
			respondError(c, err, "", "Failed to delete crew")
			return
		}
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Crew %q deleted", crew.Name)})
	}
}
