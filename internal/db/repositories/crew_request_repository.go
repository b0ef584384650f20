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

// CrewRequestRepository handles crew change requests
type CrewRequestRepository struct {
	db *sqlx.DB
}

// NewCrewRequestRepository creates a new CrewRequestRepository
func NewCrewRequestRepository(db *sqlx.DB) *CrewRequestRepository {
	return &CrewRequestRepository{db: db}
}

// CrewRequestFilters narrows ListRequests. A nil ConstructionGroupID reaches every group.
type CrewRequestFilters struct {
	ConstructionGroupID *string
	Status              string
	AssignedToID        string
	SubmittedByID       string
}

func (f CrewRequestFilters) build() *filter {
	out := &filter{}
	if f.ConstructionGroupID != nil {
		out.add("cr.construction_group_id = ?", *f.ConstructionGroupID)
	}
	if f.Status != "" {
		out.add("cr.status = ?", f.Status)
	}
	if f.AssignedToID != "" {
		out.add("cr.assigned_to_id = ?", f.AssignedToID)
	}
	if f.SubmittedByID != "" {
		out.add("cr.submitted_by_id = ?", f.SubmittedByID)
	}
	return out
}

const crewRequestSelect = `
	SELECT cr.id, cr.construction_group_id, cr.request_type, cr.requestor_name, cr.requestor_email,
		cr.volunteer_name, cr.volunteer_ba_id, cr.trade_team_id, cr.crew_id, cr.crew_name,
		cr.project_id, cr.project_roster_name, cr.comments, cr.status, cr.assigned_to_id,
		cr.resolution_notes, cr.completed_at, cr.completed_by_id, cr.submitted_by_id,
		cr.created_at, cr.updated_at,
		au.name AS assigned_to_name, au.email AS assigned_to_email, cu.name AS completed_by_name
	FROM crew_change_requests cr
	LEFT JOIN users au ON au.id = cr.assigned_to_id
	LEFT JOIN users cu ON cu.id = cr.completed_by_id`

// ListRequests returns matching requests, newest first
func (r *CrewRequestRepository) ListRequests(ctx context.Context, filters CrewRequestFilters) ([]*models.CrewChangeRequest, error) {
	f := filters.build()
	out := make([]*models.CrewChangeRequest, 0)
	if err := r.db.SelectContext(ctx, &out, crewRequestSelect+f.where()+` ORDER BY cr.created_at DESC`, f.args...); err != nil {
		return nil, err
	}
	for _, cr := range out {
		cr.Resolve()
	}
	return out, nil
}

// GetRequest retrieves a request by ID, or nil when it does not exist
func (r *CrewRequestRepository) GetRequest(ctx context.Context, id string) (*models.CrewChangeRequest, error) {
	cr := &models.CrewChangeRequest{}
	err := r.db.GetContext(ctx, cr, crewRequestSelect+` WHERE cr.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cr.Resolve()
	return cr, nil
}

// CreateRequest inserts a request
func (r *CrewRequestRepository) CreateRequest(ctx context.Context, cr *models.CrewChangeRequest) error {
	cr.ID = uuid.New().String()
	cr.CreatedAt = time.Now()
	cr.UpdatedAt = cr.CreatedAt
	if cr.Status == "" {
		cr.Status = models.CrewRequestNew
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO crew_change_requests (id, construction_group_id, request_type, requestor_name,
			requestor_email, volunteer_name, volunteer_ba_id, trade_team_id, crew_id, crew_name,
			project_id, project_roster_name, comments, status, submitted_by_id, created_at, updated_at)
		VALUES (:id, :construction_group_id, :request_type, :requestor_name,
			:requestor_email, :volunteer_name, :volunteer_ba_id, :trade_team_id, :crew_id, :crew_name,
			:project_id, :project_roster_name, :comments, :status, :submitted_by_id, :created_at, :updated_at)
	`, cr)
	return err
}

// UpdateRequest saves status, assignee, resolution and completion fields
func (r *CrewRequestRepository) UpdateRequest(ctx context.Context, cr *models.CrewChangeRequest) error {
	cr.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE crew_change_requests SET status = :status, assigned_to_id = :assigned_to_id,
			resolution_notes = :resolution_notes, completed_at = :completed_at,
			completed_by_id = :completed_by_id, updated_at = :updated_at
		WHERE id = :id
	`, cr)
	return err
}

// DeleteRequest removes a request and reports whether it existed
func (r *CrewRequestRepository) DeleteRequest(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM crew_change_requests WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
