// role_assignment_repository.go implements RoleAssignmentRepository. Every write takes a
// sqlx.ExtContext so primary maintenance, oversight limits and change logs can share one
// transaction. Unique violations on the primary and active-assignment indexes are translated
// to ErrPrimaryConflict and ErrDuplicateAssignment.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

const assignmentSelect = `
	SELECT ra.id, ra.volunteer_id, ra.role_id, ra.assignment_type, ra.scope, ra.entity_type,
		ra.entity_id, ra.is_primary, ra.is_active, ra.start_date, ra.end_date, ra.assigned_by,
		ra.consultation_required, ra.consultation_status, ra.notes, ra.created_at, ra.updated_at,
		r.code AS role_code, r.name AS role_name, r.category AS role_category,
		v.first_name AS volunteer_first_name, v.last_name AS volunteer_last_name
	FROM role_assignments ra
	JOIN roles r ON r.id = ra.role_id
	JOIN volunteers v ON v.id = ra.volunteer_id`

// RoleAssignmentRepository handles role assignments and their change log
type RoleAssignmentRepository struct {
	db *sqlx.DB
}

// NewRoleAssignmentRepository creates a new RoleAssignmentRepository
func NewRoleAssignmentRepository(db *sqlx.DB) *RoleAssignmentRepository {
	return &RoleAssignmentRepository{db: db}
}

// DB exposes the handle for callers that open transactions around repository writes.
func (r *RoleAssignmentRepository) DB() *sqlx.DB { return r.db }

// RoleAssignmentFilters narrows ListAssignments.
type RoleAssignmentFilters struct {
	ConstructionGroupID *string
	VolunteerID         string
	RoleID              string
	Scope               string
	AssignmentType      string
	EntityType          string
	EntityID            string
	IsActive            *bool
}

// ListAssignments returns assignments ordered by created_at descending
func (r *RoleAssignmentRepository) ListAssignments(ctx context.Context, filters RoleAssignmentFilters) ([]*models.RoleAssignment, error) {
	f := &filter{}
	if filters.ConstructionGroupID != nil {
		f.add("v.construction_group_id = ?", *filters.ConstructionGroupID)
	}
	if filters.VolunteerID != "" {
		f.add("ra.volunteer_id = ?", filters.VolunteerID)
	}
	if filters.RoleID != "" {
		f.add("ra.role_id = ?", filters.RoleID)
	}
	if filters.Scope != "" {
		f.add("ra.scope = ?", filters.Scope)
	}
	if filters.AssignmentType != "" {
		f.add("ra.assignment_type = ?", filters.AssignmentType)
	}
	if filters.EntityType != "" {
		f.add("ra.entity_type = ?", filters.EntityType)
	}
	if filters.EntityID != "" {
		f.add("ra.entity_id = ?", filters.EntityID)
	}
	if filters.IsActive != nil {
		f.add("ra.is_active = ?", *filters.IsActive)
	}
	out := make([]*models.RoleAssignment, 0)
	err := r.db.SelectContext(ctx, &out,
		assignmentSelect+f.where()+` ORDER BY ra.created_at DESC`, f.args...)
	return out, err
}

// GetAssignment retrieves an assignment by ID
func (r *RoleAssignmentRepository) GetAssignment(ctx context.Context, q sqlx.QueryerContext, id string) (*models.RoleAssignment, error) {
	a := &models.RoleAssignment{}
	err := sqlx.GetContext(ctx, q, a, assignmentSelect+` WHERE ra.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ExistsActive reports whether the volunteer already holds role in scope
func (r *RoleAssignmentRepository) ExistsActive(ctx context.Context, q sqlx.QueryerContext, volunteerID, roleID, scope string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, `
		SELECT EXISTS (SELECT 1 FROM role_assignments
			WHERE volunteer_id = $1 AND role_id = $2 AND scope = $3 AND is_active)
	`, volunteerID, roleID, scope)
	return exists, err
}

// CountActiveForVolunteer counts the volunteer's active assignments
func (r *RoleAssignmentRepository) CountActiveForVolunteer(ctx context.Context, q sqlx.QueryerContext, volunteerID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		`SELECT COUNT(*) FROM role_assignments WHERE volunteer_id = $1 AND is_active`, volunteerID)
	return n, err
}

// CountActiveHolders counts active holders of role on an entity
func (r *RoleAssignmentRepository) CountActiveHolders(ctx context.Context, q sqlx.QueryerContext, entityType, entityID, roleID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `
		SELECT COUNT(*) FROM role_assignments
		WHERE entity_type = $1 AND entity_id = $2 AND role_id = $3 AND is_active
	`, entityType, entityID, roleID)
	return n, err
}

// UserHoldsRole reports whether the volunteer linked to a login user actively holds any of codes
func (r *RoleAssignmentRepository) UserHoldsRole(ctx context.Context, userID string, codes []string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM role_assignments ra
			JOIN roles r ON r.id = ra.role_id
			JOIN volunteers v ON v.id = ra.volunteer_id
			WHERE v.user_id = $1 AND ra.is_active AND r.code = ANY($2))
	`, userID, pq.Array(codes))
	return exists, err
}

// ClearPrimary unsets is_primary on every assignment of the volunteer except exceptID ("" clears all)
func (r *RoleAssignmentRepository) ClearPrimary(ctx context.Context, ext sqlx.ExtContext, volunteerID, exceptID string) error {
	_, err := ext.ExecContext(ctx, `
		UPDATE role_assignments SET is_primary = false, updated_at = now()
		WHERE volunteer_id = $1 AND id::text <> $2 AND is_primary
	`, volunteerID, exceptID)
	return err
}

// InsertAssignment inserts a, translating index violations to domain errors
func (r *RoleAssignmentRepository) InsertAssignment(ctx context.Context, ext sqlx.ExtContext, a *models.RoleAssignment) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	if a.StartDate.IsZero() {
		a.StartDate = a.CreatedAt
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO role_assignments (id, volunteer_id, role_id, assignment_type, scope, entity_type,
			entity_id, is_primary, is_active, start_date, end_date, assigned_by, consultation_required,
			consultation_status, notes, created_at, updated_at)
		VALUES (:id, :volunteer_id, :role_id, :assignment_type, :scope, :entity_type,
			:entity_id, :is_primary, :is_active, :start_date, :end_date, :assigned_by, :consultation_required,
			:consultation_status, :notes, :created_at, :updated_at)
	`, a)
	return translateAssignmentErr(err)
}

// UpdateAssignment saves end date, notes, activity, primary flag and consultation status
func (r *RoleAssignmentRepository) UpdateAssignment(ctx context.Context, ext sqlx.ExtContext, a *models.RoleAssignment) error {
	a.UpdatedAt = time.Now()
	_, err := sqlx.NamedExecContext(ctx, ext, `
		UPDATE role_assignments
		SET end_date = :end_date, notes = :notes, is_active = :is_active, is_primary = :is_primary,
			consultation_status = :consultation_status, updated_at = :updated_at
		WHERE id = :id
	`, a)
	return translateAssignmentErr(err)
}

// SetPrimary marks one assignment primary
func (r *RoleAssignmentRepository) SetPrimary(ctx context.Context, ext sqlx.ExtContext, id string) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE role_assignments SET is_primary = true, updated_at = now() WHERE id = $1`, id)
	return translateAssignmentErr(err)
}

// DeleteAssignment removes an assignment. No other assignment is promoted.
func (r *RoleAssignmentRepository) DeleteAssignment(ctx context.Context, ext sqlx.ExtContext, id string) (bool, error) {
	res, err := ext.ExecContext(ctx, `DELETE FROM role_assignments WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeactivateAssignment ends an assignment without deleting it
func (r *RoleAssignmentRepository) DeactivateAssignment(ctx context.Context, ext sqlx.ExtContext, id string) error {
	_, err := ext.ExecContext(ctx, `
		UPDATE role_assignments
		SET is_active = false, is_primary = false, end_date = COALESCE(end_date, now()), updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// ExpireEnded deactivates active assignments whose end date has passed and returns them
func (r *RoleAssignmentRepository) ExpireEnded(ctx context.Context, now time.Time) ([]*models.RoleAssignment, error) {
	out := make([]*models.RoleAssignment, 0)
	err := r.db.SelectContext(ctx, &out, `
		UPDATE role_assignments
		SET is_active = false, is_primary = false, updated_at = now()
		WHERE is_active AND end_date IS NOT NULL AND end_date < $1
		RETURNING id, volunteer_id, role_id, assignment_type, scope, entity_type, entity_id,
			is_primary, is_active, start_date, end_date, created_at, updated_at
	`, now)
	return out, err
}

// FindActiveHolder returns the first active holder of roleCode on an entity
func (r *RoleAssignmentRepository) FindActiveHolder(ctx context.Context, q sqlx.QueryerContext, roleCode, entityType, entityID string) (*models.RoleAssignment, error) {
	return r.findOne(ctx, q, assignmentSelect+`
		WHERE r.code = $1 AND ra.entity_type = $2 AND ra.entity_id = $3 AND ra.is_active
		ORDER BY ra.start_date LIMIT 1`, roleCode, entityType, entityID)
}

// FindActiveInGroup returns the first active holder of roleCode among a construction group's volunteers
func (r *RoleAssignmentRepository) FindActiveInGroup(ctx context.Context, q sqlx.QueryerContext, roleCode string, cgID *string) (*models.RoleAssignment, error) {
	if cgID == nil {
		return r.findOne(ctx, q, assignmentSelect+`
			WHERE r.code = $1 AND ra.is_active ORDER BY ra.start_date LIMIT 1`, roleCode)
	}
	return r.findOne(ctx, q, assignmentSelect+`
		WHERE r.code = $1 AND v.construction_group_id = $2 AND ra.is_active
		ORDER BY ra.start_date LIMIT 1`, roleCode, *cgID)
}

func (r *RoleAssignmentRepository) findOne(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.RoleAssignment, error) {
	a := &models.RoleAssignment{}
	err := sqlx.GetContext(ctx, q, a, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// InsertChangeLog appends a role change log row
func (r *RoleAssignmentRepository) InsertChangeLog(ctx context.Context, ext sqlx.ExtContext, l *models.RoleChangeLog) error {
	l.ID = uuid.New().String()
	l.CreatedAt = time.Now()
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO role_change_logs (id, role_assignment_id, volunteer_id, role_id, action, old_data,
			new_data, reason, performed_by, created_at)
		VALUES (:id, :role_assignment_id, :volunteer_id, :role_id, :action, :old_data,
			:new_data, :reason, :performed_by, :created_at)
	`, l)
	return err
}

// ListChangeLogs returns the change history of an assignment, newest first
func (r *RoleAssignmentRepository) ListChangeLogs(ctx context.Context, assignmentID string) ([]*models.RoleChangeLog, error) {
	out := make([]*models.RoleChangeLog, 0)
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, role_assignment_id, volunteer_id, role_id, action, old_data, new_data, reason,
			performed_by, created_at
		FROM role_change_logs WHERE role_assignment_id = $1 ORDER BY created_at DESC
	`, assignmentID)
	return out, err
}

// GetStats aggregates assignments for a construction group (nil = all)
func (r *RoleAssignmentRepository) GetStats(ctx context.Context, cgID *string) (*models.RoleAssignmentStats, error) {
	f := &filter{}
	if cgID != nil {
		f.add("v.construction_group_id = ?", *cgID)
	}
	from := ` FROM role_assignments ra JOIN roles r ON r.id = ra.role_id JOIN volunteers v ON v.id = ra.volunteer_id` + f.where()

	stats := &models.RoleAssignmentStats{
		ByCategory: map[string]int{},
		ByRole:     map[string]int{},
		ByType:     map[string]int{},
	}
	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE ra.is_active),
			COUNT(*) FILTER (WHERE ra.is_active AND ra.is_primary)`+from, f.args...).
		Scan(&stats.Total, &stats.Active, &stats.Primary)
	if err != nil {
		return nil, err
	}

	groups := []struct {
		expr string
		into map[string]int
	}{
		{"r.category", stats.ByCategory},
		{"r.code", stats.ByRole},
		{"ra.assignment_type", stats.ByType},
	}
	for _, g := range groups {
		rows, err := r.db.QueryxContext(ctx,
			`SELECT `+g.expr+`, COUNT(*)`+from+` AND ra.is_active GROUP BY 1`, f.args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var k string
			var n int
			if err := rows.Scan(&k, &n); err != nil {
				rows.Close()
				return nil, err
			}
			g.into[k] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func translateAssignmentErr(err error) error {
	switch {
	case err == nil:
		return nil
	case isUnique(err, constraintOnePrimary):
		return ErrPrimaryConflict
	case isUnique(err, constraintActiveAssignment):
		return ErrDuplicateAssignment
	}
	return err
}
