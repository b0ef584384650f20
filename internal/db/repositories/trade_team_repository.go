// trade_team_repository.go implements TradeTeamRepository for trade teams and their crews,
// including the row locks taken while oversight limits are checked.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// TradeTeamRepository handles trade team and crew database operations
type TradeTeamRepository struct {
	db *sqlx.DB
}

// NewTradeTeamRepository creates a new TradeTeamRepository
func NewTradeTeamRepository(db *sqlx.DB) *TradeTeamRepository {
	return &TradeTeamRepository{db: db}
}

const tradeTeamSelect = `
	SELECT t.id, t.name, t.description, t.color, t.construction_group_id, t.is_active,
		t.created_at, t.updated_at,
		(SELECT COUNT(*) FROM crews c WHERE c.trade_team_id = t.id AND c.is_active) AS crew_count,
		(SELECT COUNT(*) FROM volunteers v WHERE v.trade_team_id = t.id AND v.is_active) AS volunteer_count
	FROM trade_teams t`

// ListTradeTeams returns the teams of a construction group (nil = all) ordered by name
func (r *TradeTeamRepository) ListTradeTeams(ctx context.Context, cgID *string, includeInactive bool) ([]*models.TradeTeam, error) {
	f := &filter{}
	if cgID != nil {
		f.add("t.construction_group_id = ?", *cgID)
	}
	if !includeInactive {
		f.add("t.is_active = ?", true)
	}
	out := make([]*models.TradeTeam, 0)
	err := r.db.SelectContext(ctx, &out, tradeTeamSelect+f.where()+` ORDER BY t.name`, f.args...)
	return out, err
}

// GetTradeTeam retrieves a team by ID
func (r *TradeTeamRepository) GetTradeTeam(ctx context.Context, id string) (*models.TradeTeam, error) {
	return r.getTeam(ctx, tradeTeamSelect+` WHERE t.id = $1`, id)
}

// GetTradeTeamByName finds a team by exact name within a construction group
func (r *TradeTeamRepository) GetTradeTeamByName(ctx context.Context, cgID *string, name string) (*models.TradeTeam, error) {
	if cgID == nil {
		return r.getTeam(ctx, tradeTeamSelect+` WHERE t.name = $1`, name)
	}
	return r.getTeam(ctx, tradeTeamSelect+` WHERE t.name = $1 AND t.construction_group_id = $2`, name, *cgID)
}

func (r *TradeTeamRepository) getTeam(ctx context.Context, query string, args ...interface{}) (*models.TradeTeam, error) {
	t := &models.TradeTeam{}
	err := r.db.GetContext(ctx, t, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTradeTeam inserts a team. A duplicate name in the group returns ErrDuplicateName.
func (r *TradeTeamRepository) CreateTradeTeam(ctx context.Context, t *models.TradeTeam) error {
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO trade_teams (id, name, description, color, construction_group_id, is_active, created_at, updated_at)
		VALUES (:id, :name, :description, :color, :construction_group_id, :is_active, :created_at, :updated_at)
	`, t)
	if isUnique(err, "trade_teams_cg_name_unique") {
		return ErrDuplicateName
	}
	return err
}

// UpdateTradeTeam saves name, description, color and active flag
func (r *TradeTeamRepository) UpdateTradeTeam(ctx context.Context, t *models.TradeTeam) error {
	t.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE trade_teams
		SET name = :name, description = :description, color = :color, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, t)
	if isUnique(err, "trade_teams_cg_name_unique") {
		return ErrDuplicateName
	}
	return err
}

// DeleteTradeTeam removes a team and its crews
func (r *TradeTeamRepository) DeleteTradeTeam(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trade_teams WHERE id = $1`, id)
	return err
}

// LockTradeTeam takes a row lock on the team for the rest of tx
func (r *TradeTeamRepository) LockTradeTeam(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	var got string
	err := tx.GetContext(ctx, &got, `SELECT id FROM trade_teams WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ---------------------------------------------------------------------------
// Crews
// ---------------------------------------------------------------------------

const crewSelect = `
	SELECT c.id, c.trade_team_id, c.name, c.description, c.is_active, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM volunteers v WHERE v.crew_id = c.id AND v.is_active) AS volunteer_count
	FROM crews c`

// ListCrews returns the crews of a team ordered by name
func (r *TradeTeamRepository) ListCrews(ctx context.Context, tradeTeamID string) ([]*models.Crew, error) {
	out := make([]*models.Crew, 0)
	err := r.db.SelectContext(ctx, &out, crewSelect+` WHERE c.trade_team_id = $1 ORDER BY c.name`, tradeTeamID)
	return out, err
}

// ListCrewsForGroup returns the active crews of every team in a construction group (nil = all)
func (r *TradeTeamRepository) ListCrewsForGroup(ctx context.Context, cgID *string) ([]*models.Crew, error) {
	f := &filter{}
	f.add("c.is_active = ?", true)
	if cgID != nil {
		f.add("c.trade_team_id IN (SELECT id FROM trade_teams WHERE construction_group_id = ?)", *cgID)
	}
	out := make([]*models.Crew, 0)
	err := r.db.SelectContext(ctx, &out, crewSelect+f.where()+` ORDER BY c.name`, f.args...)
	return out, err
}

// GetCrew retrieves a crew scoped to its team
func (r *TradeTeamRepository) GetCrew(ctx context.Context, tradeTeamID, crewID string) (*models.Crew, error) {
	return r.getCrew(ctx, crewSelect+` WHERE c.trade_team_id = $1 AND c.id = $2`, tradeTeamID, crewID)
}

// GetCrewByID retrieves a crew without a team scope
func (r *TradeTeamRepository) GetCrewByID(ctx context.Context, crewID string) (*models.Crew, error) {
	return r.getCrew(ctx, crewSelect+` WHERE c.id = $1`, crewID)
}

// GetCrewByName finds a crew by exact name within a team
func (r *TradeTeamRepository) GetCrewByName(ctx context.Context, tradeTeamID, name string) (*models.Crew, error) {
	return r.getCrew(ctx, crewSelect+` WHERE c.trade_team_id = $1 AND c.name = $2`, tradeTeamID, name)
}

func (r *TradeTeamRepository) getCrew(ctx context.Context, query string, args ...interface{}) (*models.Crew, error) {
	c := &models.Crew{}
	err := r.db.GetContext(ctx, c, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCrew inserts a crew using ext. A duplicate name in the team returns ErrDuplicateName.
func (r *TradeTeamRepository) CreateCrew(ctx context.Context, ext sqlx.ExtContext, c *models.Crew) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO crews (id, trade_team_id, name, description, is_active, created_at, updated_at)
		VALUES (:id, :trade_team_id, :name, :description, :is_active, :created_at, :updated_at)
	`, c)
	if isUnique(err, "crews_team_name_unique") {
		return ErrDuplicateName
	}
	return err
}

// UpdateCrew saves name, description and active flag
func (r *TradeTeamRepository) UpdateCrew(ctx context.Context, c *models.Crew) error {
	c.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE crews SET name = :name, description = :description, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, c)
	if isUnique(err, "crews_team_name_unique") {
		return ErrDuplicateName
	}
	return err
}

// DeleteCrew removes a crew
func (r *TradeTeamRepository) DeleteCrew(ctx context.Context, crewID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM crews WHERE id = $1`, crewID)
	return err
}

// LockCrew takes a row lock on the crew for the rest of tx
func (r *TradeTeamRepository) LockCrew(ctx context.Context, tx *sqlx.Tx, crewID string) (bool, error) {
	var got string
	err := tx.GetContext(ctx, &got, `SELECT id FROM crews WHERE id = $1 FOR UPDATE`, crewID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SeedStandardTeams creates the standard catalog for a construction group inside tx, skipping
// names that already exist. It returns the names of the teams created.
func (r *TradeTeamRepository) SeedStandardTeams(ctx context.Context, tx *sqlx.Tx, cgID *string) ([]string, error) {
	created := make([]string, 0)
	for _, std := range models.StandardTradeTeams {
		teamID := uuid.New().String()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO trade_teams (id, name, color, construction_group_id, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, now(), now())
			ON CONFLICT ON CONSTRAINT trade_teams_cg_name_unique DO NOTHING
		`, teamID, std.Name, std.Color, cgID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		for _, crew := range std.Crews {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO crews (id, trade_team_id, name, is_active, created_at, updated_at)
				VALUES ($1, $2, $3, true, now(), now())
			`, uuid.New().String(), teamID, crew); err != nil {
				return nil, err
			}
		}
		created = append(created, std.Name)
	}
	return created, nil
}
