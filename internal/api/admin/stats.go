// stats.go implements the admin dashboard statistics handler.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
)

// StatsHandler handles stats-related API requests
type StatsHandler struct {
	repo *repositories.StatsRepository
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(database *sqlx.DB) *StatsHandler {
	return &StatsHandler{repo: repositories.NewStatsRepository(database)}
}

// @Summary      Get dashboard statistics
// @Description  Counts of users, volunteers, teams, crews, congregations, active role assignments, pending assignment requests and audit events in the last 24 hours, limited to the caller's construction group.
// @Tags         Stats
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "stats, timestamp"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/stats [get]
// GetDashboardStats returns dashboard statistics using a single database round-trip.
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	stats, err := h.repo.Dashboard(c.Request.Context(), middleware.CGScope(c))
	if err != nil {
		respondError(c, err, "Failed to load dashboard statistics")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
