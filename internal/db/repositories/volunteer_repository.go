// volunteer_repository.go implements VolunteerRepository: the personnel directory, including
// filtered listing, bulk updates, statistics and the export feed.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

const volunteerSelect = `
	SELECT v.id, v.first_name, v.last_name, v.ba_id, v.email_personal, v.email_jw, v.phone,
		v.congregation, v.congregation_id, v.serving_as, v.notes, v.trade_team_id, v.crew_id,
		v.construction_group_id, v.user_id, v.is_active, v.created_at, v.updated_at,
		tt.name AS trade_team_name, c.name AS crew_name
	FROM volunteers v
	LEFT JOIN trade_teams tt ON tt.id = v.trade_team_id
	LEFT JOIN crews c ON c.id = v.crew_id`

// VolunteerRepository handles volunteer database operations
type VolunteerRepository struct {
	db *sqlx.DB
}

// NewVolunteerRepository creates a new VolunteerRepository
func NewVolunteerRepository(db *sqlx.DB) *VolunteerRepository {
	return &VolunteerRepository{db: db}
}

// VolunteerFilters narrows ListVolunteers. A nil ConstructionGroupID means every group.
type VolunteerFilters struct {
	ConstructionGroupID *string
	Search              string
	TradeTeamID         string
	CrewID              string
	Congregation        string
	IsActive            *bool
}

func (f VolunteerFilters) build() *filter {
	w := &filter{}
	if f.ConstructionGroupID != nil {
		w.add("v.construction_group_id = ?", *f.ConstructionGroupID)
	}
	if f.Search != "" {
		s := like(f.Search)
		w.add("(v.first_name ILIKE ? OR v.last_name ILIKE ? OR v.email_personal ILIKE ? OR v.email_jw ILIKE ? OR v.ba_id ILIKE ?)",
			s, s, s, s, s)
	}
	if f.TradeTeamID != "" {
		w.add("v.trade_team_id = ?", f.TradeTeamID)
	}
	if f.CrewID != "" {
		w.add("v.crew_id = ?", f.CrewID)
	}
	if f.Congregation != "" {
		w.add("v.congregation ILIKE ?", like(f.Congregation))
	}
	if f.IsActive != nil {
		w.add("v.is_active = ?", *f.IsActive)
	}
	return w
}

// ListVolunteers returns a page of volunteers ordered by last then first name
func (r *VolunteerRepository) ListVolunteers(ctx context.Context, filters VolunteerFilters, limit, offset int) ([]*models.Volunteer, int, error) {
	f := filters.build()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM volunteers v`+f.where(), f.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := f.page(limit, offset)
	out := make([]*models.Volunteer, 0)
	err := r.db.SelectContext(ctx, &out, volunteerSelect+f.where()+` ORDER BY v.last_name, v.first_name`+suffix, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListAllVolunteers returns every matching volunteer, for export
func (r *VolunteerRepository) ListAllVolunteers(ctx context.Context, filters VolunteerFilters) ([]*models.Volunteer, error) {
	f := filters.build()
	out := make([]*models.Volunteer, 0)
	err := r.db.SelectContext(ctx, &out, volunteerSelect+f.where()+` ORDER BY v.last_name, v.first_name`, f.args...)
	return out, err
}

// GetVolunteer retrieves a volunteer by ID
func (r *VolunteerRepository) GetVolunteer(ctx context.Context, id string) (*models.Volunteer, error) {
	return r.getOne(ctx, volunteerSelect+` WHERE v.id = $1`, id)
}

// GetVolunteerByUserID retrieves the volunteer linked to a login user
func (r *VolunteerRepository) GetVolunteerByUserID(ctx context.Context, userID string) (*models.Volunteer, error) {
	return r.getOne(ctx, volunteerSelect+` WHERE v.user_id = $1`, userID)
}

func (r *VolunteerRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.Volunteer, error) {
	v := &models.Volunteer{}
	err := r.db.GetContext(ctx, v, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CreateVolunteer inserts a volunteer using ext, which may be a transaction
func (r *VolunteerRepository) CreateVolunteer(ctx context.Context, ext sqlx.ExtContext, v *models.Volunteer) error {
	v.ID = uuid.New().String()
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	if v.ServingAs == nil {
		v.ServingAs = pq.StringArray{}
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO volunteers (id, first_name, last_name, ba_id, email_personal, email_jw, phone,
			congregation, congregation_id, serving_as, notes, trade_team_id, crew_id,
			construction_group_id, user_id, is_active, created_at, updated_at)
		VALUES (:id, :first_name, :last_name, :ba_id, :email_personal, :email_jw, :phone,
			:congregation, :congregation_id, :serving_as, :notes, :trade_team_id, :crew_id,
			:construction_group_id, :user_id, :is_active, :created_at, :updated_at)
	`, v)
	return err
}

// UpdateVolunteer saves every mutable column
func (r *VolunteerRepository) UpdateVolunteer(ctx context.Context, v *models.Volunteer) error {
	v.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE volunteers
		SET first_name = :first_name, last_name = :last_name, ba_id = :ba_id,
			email_personal = :email_personal, email_jw = :email_jw, phone = :phone,
			congregation = :congregation, congregation_id = :congregation_id,
			serving_as = :serving_as, notes = :notes, trade_team_id = :trade_team_id,
			crew_id = :crew_id, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, v)
	return err
}

// DeleteVolunteer removes a volunteer and, by cascade, their role assignments
func (r *VolunteerRepository) DeleteVolunteer(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM volunteers WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// BulkUpdate is the set of columns POST /volunteers/bulk-update may change.
type BulkUpdate struct {
	IsActive    *bool
	TradeTeamID *string
	CrewID      *string
}

// BulkUpdateVolunteers applies update to ids within the construction group and returns the row count
func (r *VolunteerRepository) BulkUpdateVolunteers(ctx context.Context, ids []string, cgID *string, update BulkUpdate) (int64, error) {
	sets := &filter{}
	if update.IsActive != nil {
		sets.add("is_active = ?", *update.IsActive)
	}
	if update.TradeTeamID != nil {
		sets.add("trade_team_id = NULLIF(?, '')::uuid", *update.TradeTeamID)
	}
	if update.CrewID != nil {
		sets.add("crew_id = NULLIF(?, '')::uuid", *update.CrewID)
	}
	if len(sets.clauses) == 0 || len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE volunteers SET updated_at = now()`
	for _, c := range sets.clauses {
		query += ", " + c
	}
	args := append(sets.args, pq.Array(ids))
	query += ` WHERE id = ANY($` + strconv.Itoa(len(args)) + `)`
	if cgID != nil {
		args = append(args, *cgID)
		query += ` AND construction_group_id = $` + strconv.Itoa(len(args))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LinkUser links or unlinks (userID nil) a login user
func (r *VolunteerRepository) LinkUser(ctx context.Context, volunteerID string, userID *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE volunteers SET user_id = $2, updated_at = now() WHERE id = $1`, volunteerID, userID)
	if isUnique(err, "") {
		return ErrDuplicateName
	}
	return err
}

// GetStats aggregates the directory for a construction group (nil = all)
func (r *VolunteerRepository) GetStats(ctx context.Context, cgID *string) (*models.VolunteerStats, error) {
	f := &filter{}
	if cgID != nil {
		f.add("v.construction_group_id = ?", *cgID)
	}
	stats := &models.VolunteerStats{ByTradeTeam: map[string]int{}, ByCongregation: map[string]int{}}

	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE v.is_active),
			COUNT(*) FILTER (WHERE v.trade_team_id IS NULL)
		FROM volunteers v`+f.where(), f.args...).Scan(&stats.Total, &stats.Active, &stats.Unassigned)
	if err != nil {
		return nil, err
	}
	stats.Inactive = stats.Total - stats.Active

	if err := r.groupCount(ctx, `
		SELECT COALESCE(tt.name, 'Unassigned'), COUNT(*)
		FROM volunteers v LEFT JOIN trade_teams tt ON tt.id = v.trade_team_id`+f.where()+`
		GROUP BY 1`, f.args, stats.ByTradeTeam); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, `
		SELECT COALESCE(NULLIF(v.congregation, ''), 'Unknown'), COUNT(*)
		FROM volunteers v`+f.where()+`
		GROUP BY 1`, f.args, stats.ByCongregation); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *VolunteerRepository) groupCount(ctx context.Context, query string, args []interface{}, into map[string]int) error {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		into[k] = n
	}
	return rows.Err()
}
