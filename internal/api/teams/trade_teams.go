// Package teams implements the trade team, crew and oversight endpoints.
package teams

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// TradeTeamHandlers handles trade team and crew endpoints
type TradeTeamHandlers struct {
	db         *sqlx.DB
	teams      *repositories.TradeTeamRepository
	volunteers *repositories.VolunteerRepository
	roles      *services.RoleAssignmentService
	views      *services.ReadModels
}

// NewTradeTeamHandlers creates a new TradeTeamHandlers instance
func NewTradeTeamHandlers(db *sqlx.DB, roles *services.RoleAssignmentService, views *services.ReadModels) *TradeTeamHandlers {
	return &TradeTeamHandlers{
		db:         db,
		teams:      repositories.NewTradeTeamRepository(db),
		volunteers: repositories.NewVolunteerRepository(db),
		roles:      roles,
		views:      views,
	}
}

// TradeTeamRequest is the body of create and update
type TradeTeamRequest struct {
	Name                *string `json:"name"`
	Description         *string `json:"description"`
	Color               *string `json:"color"`
	IsActive            *bool   `json:"is_active"`
	ConstructionGroupID *string `json:"construction_group_id"`
}

type tradeTeamDetail struct {
	*models.TradeTeam
	Crews []*models.Crew `json:"crews"`
}

// @Summary      List trade teams
// @Description  Lists trade teams in the caller's construction group with crew and active volunteer counts. Requires teams:read scope.
// @Tags         TradeTeams
// @Security     Bearer
// @Produce      json
// @Param        include_inactive  query  bool  false  "Include inactive teams"
// @Success      200  {object}  map[string]interface{}  "trade_teams: []models.TradeTeam"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/trade-teams [get]
// ListTradeTeamsHandler lists trade teams
// GET /api/v1/trade-teams
func (h *TradeTeamHandlers) ListTradeTeamsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		includeInactive, _ := strconv.ParseBool(c.DefaultQuery("include_inactive", "false"))

		teams, err := h.teams.ListTradeTeams(c.Request.Context(), middleware.CGScope(c), includeInactive)
		if err != nil {
			respondError(c, err, "", "Failed to list trade teams")
			return
		}
		c.JSON(http.StatusOK, gin.H{"trade_teams": teams, "count": len(teams)})
	}
}

// @Summary      Create trade team
// @Tags         TradeTeams
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  TradeTeamRequest  true  "Trade team"
// @Success      201  {object}  models.TradeTeam
// @Failure      400  {object}  map[string]interface{}  "Name is required"
// @Failure      409  {object}  map[string]interface{}  "Name already exists"
// @Router       /api/v1/trade-teams [post]
// CreateTradeTeamHandler creates a trade team in the caller's construction group
// POST /api/v1/trade-teams
func (h *TradeTeamHandlers) CreateTradeTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TradeTeamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
			return
		}

		cg := middleware.CGScope(c)
		if cg == nil {
			cg = req.ConstructionGroupID
		}
		team := &models.TradeTeam{
			Name:                validation.Text(*req.Name),
			Description:         validation.Notes(req.Description),
			Color:               req.Color,
			ConstructionGroupID: cg,
			IsActive:            true,
		}
		if err := h.teams.CreateTradeTeam(c.Request.Context(), team); err != nil {
			respondError(c, err, "", "Failed to create trade team")
			return
		}
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusCreated, team)
	}
}

// loadTeam fetches :id and writes 404 when it is missing or outside the caller's group.
func (h *TradeTeamHandlers) loadTeam(c *gin.Context) (*models.TradeTeam, bool) {
	team, err := h.teams.GetTradeTeam(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "", "Failed to retrieve trade team")
		return nil, false
	}
	if team == nil || !inScope(c, team.ConstructionGroupID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Trade team not found"})
		return nil, false
	}
	return team, true
}

// @Summary      Get trade team
// @Tags         TradeTeams
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Trade team ID"
// @Success      200  {object}  map[string]interface{}  "trade team with crews"
// @Failure      404  {object}  map[string]interface{}  "Trade team not found"
// @Router       /api/v1/trade-teams/{id} [get]
// GetTradeTeamHandler returns a team with its crews
// GET /api/v1/trade-teams/:id
func (h *TradeTeamHandlers) GetTradeTeamHandler() gin.HandlerFunc {
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
		c.JSON(http.StatusOK, tradeTeamDetail{TradeTeam: team, Crews: crews})
	}
}

// @Summary      Update trade team
// @Tags         TradeTeams
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Trade team ID"
// @Param        body  body  TradeTeamRequest  true  "Fields to change"
// @Success      200  {object}  models.TradeTeam
// @Failure      404  {object}  map[string]interface{}  "Trade team not found"
// @Failure      409  {object}  map[string]interface{}  "Name already exists"
// @Router       /api/v1/trade-teams/{id} [patch]
// UpdateTradeTeamHandler updates a trade team
// PATCH /api/v1/trade-teams/:id
func (h *TradeTeamHandlers) UpdateTradeTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TradeTeamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		team, ok := h.loadTeam(c)
		if !ok {
			return
		}

		if req.Name != nil {
			if strings.TrimSpace(*req.Name) == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Name cannot be empty"})
				return
			}
			team.Name = validation.Text(*req.Name)
		}
		if req.Description != nil {
			team.Description = validation.Notes(req.Description)
		}
		if req.Color != nil {
			team.Color = req.Color
		}
		if req.IsActive != nil {
			team.IsActive = *req.IsActive
		}
		if err := h.teams.UpdateTradeTeam(c.Request.Context(), team); err != nil {
			respondError(c, err, "", "Failed to update trade team")
			return
		}
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, team)
	}
}

// @Summary      Delete trade team
// @Description  Deletes a trade team and its crews.
// @Tags         TradeTeams
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Trade team ID"
// @Success      200  {object}  map[string]interface{}  "message, deleted_crews"
// @Failure      404  {object}  map[string]interface{}  "Trade team not found"
// @Router       /api/v1/trade-teams/{id} [delete]
// DeleteTradeTeamHandler deletes a trade team
// DELETE /api/v1/trade-teams/:id
func (h *TradeTeamHandlers) DeleteTradeTeamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		team, ok := h.loadTeam(c)
		if !ok {
			return
		}
		if err := h.teams.DeleteTradeTeam(c.Request.Context(), team.ID); err != nil {
			respondError(c, err, "", "Failed to delete trade team")
			return
		}
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"message":       fmt.Sprintf("Trade team %q deleted successfully", team.Name),
			"deleted_crews": team.CrewCount,
		})
	}
}

// @Summary      Seed standard trade teams
// @Description  Creates the standard trade team catalog with its crews. Teams that already exist are skipped.
// @Tags         TradeTeams
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "created: []string, skipped: int"
// @Router       /api/v1/trade-teams/seed-standard [post]
// SeedStandardHandler creates the standard trade teams
// POST /api/v1/trade-teams/seed-standard
func (h *TradeTeamHandlers) SeedStandardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cg := middleware.CGScope(c)
		if cg == nil {
			if q := c.Query("construction_group_id"); q != "" {
				cg = &q
			}
		}

		var created []string
		err := pgdb.WithTx(c.Request.Context(), h.db, func(tx *sqlx.Tx) error {
			var err error
			created, err = h.teams.SeedStandardTeams(c.Request.Context(), tx, cg)
			return err
		})
		if err != nil {
			respondError(c, err, "", "Failed to seed trade teams")
			return
		}
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"created": created,
			"skipped": len(models.StandardTradeTeams) - len(created),
		})
	}
}

// @Summary      Trade team overview
// @Description  Org chart of every team with overseers, crews and open positions. Served from the cache.
// @Tags         TradeTeams
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "trade_teams, total_teams, total_crews, total_vacancies"
// @Router       /api/v1/trade-teams/overview [get]
// OverviewHandler returns the cached org chart
// GET /api/v1/trade-teams/overview
func (h *TradeTeamHandlers) OverviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		overview, err := h.views.TradeTeamOverview(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "", "Failed to build trade team overview")
			return
		}
		crews, vacancies := 0, 0
		for _, t := range overview {
			crews += len(t.Crews)
			vacancies += t.Vacancies
		}
		c.JSON(http.StatusOK, gin.H{
			"trade_teams":     overview,
			"total_teams":     len(overview),
			"total_crews":     crews,
			"total_vacancies": vacancies,
		})
	}
}

// @Summary      Export trade team overview
// @Tags         TradeTeams
// @Security     Bearer
// @Produce      text/csv
// @Success      200  {file}  file  "CSV"
// @Router       /api/v1/trade-teams/overview/export [get]
// ExportOverviewHandler writes the org chart as CSV, one row per crew
// GET /api/v1/trade-teams/overview/export
func (h *TradeTeamHandlers) ExportOverviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		overview, err := h.views.TradeTeamOverview(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "", "Failed to build trade team overview")
			return
		}

		filename := fmt.Sprintf("trade-teams-overview-%s.csv", time.Now().Format("2006-01-02"))
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Status(http.StatusOK)

		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"Trade Team", "Trade Team Overseer", "Crew", "Crew Overseer", "Volunteers", "Open Positions"})
		for _, t := range overview {
			tto := deref(t.Overseer)
			if len(t.Crews) == 0 {
				_ = w.Write([]string{t.Name, tto, "", "", strconv.Itoa(t.VolunteerCount), strconv.Itoa(t.Vacancies)})
				continue
			}
			for _, crew := range t.Crews {
				_ = w.Write([]string{t.Name, tto, crew.Name, deref(crew.Overseer), strconv.Itoa(crew.VolunteerCount), strconv.Itoa(t.Vacancies)})
			}
		}
		w.Flush()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
