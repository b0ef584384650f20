package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// StatsRepository computes cross-table counts for the admin dashboard
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository creates a new StatsRepository
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// Dashboard returns the summary counts. A non-nil cgID limits every count to that group.
func (r *StatsRepository) Dashboard(ctx context.Context, cgID *string) (*models.DashboardStats, error) {
	args := []interface{}{}
	cg := func(alias string) string { return "TRUE" }
	if cgID != nil {
		args = append(args, *cgID)
		cg = func(alias string) string { return alias + "construction_group_id = $1" }
	}
	query := fmt.Sprintf(`
		SELECT
			(SELECT COUNT(*) FROM users WHERE %[1]s) AS users,
			(SELECT COUNT(*) FROM volunteers WHERE %[1]s) AS volunteers,
			(SELECT COUNT(*) FROM volunteers WHERE is_active AND %[1]s) AS active_volunteers,
			(SELECT COUNT(*) FROM trade_teams WHERE is_active AND %[1]s) AS trade_teams,
			(SELECT COUNT(*) FROM crews c JOIN trade_teams t ON t.id = c.trade_team_id
				WHERE c.is_active AND %[2]s) AS crews,
			(SELECT COUNT(*) FROM congregations WHERE is_active AND %[1]s) AS congregations,
			(SELECT COUNT(*) FROM role_assignments ra JOIN volunteers v ON v.id = ra.volunteer_id
				WHERE ra.is_active AND %[3]s) AS active_assignments,
			(SELECT COUNT(*) FROM assignment_requests WHERE status LIKE 'pending%%' AND %[1]s) AS pending_requests,
			(SELECT COUNT(*) FROM audit_logs WHERE timestamp > now() - interval '24 hours' AND %[1]s) AS audit_events_24h
	`, cg(""), cg("t."), cg("v."))

	var s models.DashboardStats
	if err := r.db.GetContext(ctx, &s, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load dashboard stats: %w", err)
	}
	return &s, nil
}
