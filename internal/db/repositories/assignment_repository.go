// assignment_repository.go implements AssignmentRepository: assignment requests and the
// approval, state, history and capacity rows the workflow engine writes in one transaction.
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

const assignmentRequestColumns = `id, requester_id, volunteer_id, assignment_type, priority_level,
	requested_role, project_id, trade_team_id, crew_id, construction_group_id, start_date, end_date,
	description, requirements, status, current_approval_level, created_at, updated_at`

// AssignmentRepository handles assignment workflow persistence
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates a new AssignmentRepository
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// DB exposes the handle for callers that open transactions.
func (r *AssignmentRepository) DB() *sqlx.DB { return r.db }

// AssignmentFilters narrows ListRequests.
type AssignmentFilters struct {
	ConstructionGroupID *string
	Status              string
	AssignmentType      string
	CrewID              string
	RequesterID         string
}

// CreateRequest inserts a request
func (r *AssignmentRepository) CreateRequest(ctx context.Context, ext sqlx.ExtContext, a *models.AssignmentRequest) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO assignment_requests (id, requester_id, volunteer_id, assignment_type, priority_level,
			requested_role, project_id, trade_team_id, crew_id, construction_group_id, start_date, end_date,
			description, requirements, status, current_approval_level, created_at, updated_at)
		VALUES (:id, :requester_id, :volunteer_id, :assignment_type, :priority_level,
			:requested_role, :project_id, :trade_team_id, :crew_id, :construction_group_id, :start_date, :end_date,
			:description, :requirements, :status, :current_approval_level, :created_at, :updated_at)
	`, a)
	return err
}

// GetRequest retrieves a request by ID
func (r *AssignmentRepository) GetRequest(ctx context.Context, q sqlx.QueryerContext, id string) (*models.AssignmentRequest, error) {
	return r.getRequest(ctx, q, `SELECT `+assignmentRequestColumns+` FROM assignment_requests WHERE id = $1`, id)
}

// GetRequestForUpdate retrieves and row-locks a request inside tx
func (r *AssignmentRepository) GetRequestForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.AssignmentRequest, error) {
	return r.getRequest(ctx, tx, `SELECT `+assignmentRequestColumns+` FROM assignment_requests WHERE id = $1 FOR UPDATE`, id)
}

func (r *AssignmentRepository) getRequest(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.AssignmentRequest, error) {
	a := &models.AssignmentRequest{}
	err := sqlx.GetContext(ctx, q, a, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListRequests returns a page of requests, newest first
func (r *AssignmentRepository) ListRequests(ctx context.Context, filters AssignmentFilters, limit, offset int) ([]*models.AssignmentRequest, int, error) {
	f := &filter{}
	if filters.ConstructionGroupID != nil {
		f.add("construction_group_id = ?", *filters.ConstructionGroupID)
	}
	if filters.Status != "" {
		f.add("status = ?", filters.Status)
	}
	if filters.AssignmentType != "" {
		f.add("assignment_type = ?", filters.AssignmentType)
	}
	if filters.CrewID != "" {
		f.add("crew_id = ?", filters.CrewID)
	}
	if filters.RequesterID != "" {
		f.add("requester_id = ?", filters.RequesterID)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM assignment_requests`+f.where(), f.args...); err != nil {
		return nil, 0, err
	}
	suffix, args := f.page(limit, offset)
	out := make([]*models.AssignmentRequest, 0)
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+assignmentRequestColumns+` FROM assignment_requests`+f.where()+` ORDER BY created_at DESC`+suffix, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UpdateStatus sets status and approval level
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, ext sqlx.ExtContext, id, status string, level int) error {
	_, err := ext.ExecContext(ctx, `
		UPDATE assignment_requests SET status = $2, current_approval_level = $3, updated_at = now() WHERE id = $1
	`, id, status, level)
	return err
}

// ---------------------------------------------------------------------------
// Approvals, states and history
// ---------------------------------------------------------------------------

// InsertApproval creates a pending approval step
func (r *AssignmentRepository) InsertApproval(ctx context.Context, ext sqlx.ExtContext, ap *models.AssignmentApproval) error {
	ap.ID = uuid.New().String()
	ap.CreatedAt = time.Now()
	if ap.Status == "" {
		ap.Status = models.ApprovalPending
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO assignment_approvals (id, assignment_id, approval_level, approver_volunteer_id,
			approver_role, status, created_at)
		VALUES (:id, :assignment_id, :approval_level, :approver_volunteer_id, :approver_role, :status, :created_at)
	`, ap)
	return err
}

// GetPendingApproval returns the pending approval at level, if any
func (r *AssignmentRepository) GetPendingApproval(ctx context.Context, q sqlx.QueryerContext, assignmentID string, level int) (*models.AssignmentApproval, error) {
	ap := &models.AssignmentApproval{}
	err := sqlx.GetContext(ctx, q, ap, `
		SELECT id, assignment_id, approval_level, approver_volunteer_id, approver_role, status, comments,
			decided_by, decided_at, created_at
		FROM assignment_approvals
		WHERE assignment_id = $1 AND approval_level = $2 AND status = $3
		ORDER BY created_at DESC LIMIT 1
	`, assignmentID, level, models.ApprovalPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ap, nil
}

// DecideApproval records a decision on an approval step
func (r *AssignmentRepository) DecideApproval(ctx context.Context, ext sqlx.ExtContext, id, status string, comments *string, decidedBy string) error {
	_, err := ext.ExecContext(ctx, `
		UPDATE assignment_approvals SET status = $2, comments = $3, decided_by = $4, decided_at = now()
		WHERE id = $1
	`, id, status, comments, decidedBy)
	return err
}

// InsertState records a status change
func (r *AssignmentRepository) InsertState(ctx context.Context, ext sqlx.ExtContext, s *models.WorkflowState) error {
	s.ID = uuid.New().String()
	s.CreatedAt = time.Now()
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO workflow_states (id, assignment_id, from_state, to_state, actor_id, reason, created_at)
		VALUES (:id, :assignment_id, :from_state, :to_state, :actor_id, :reason, :created_at)
	`, s)
	return err
}

// InsertHistory appends a history entry
func (r *AssignmentRepository) InsertHistory(ctx context.Context, ext sqlx.ExtContext, h *models.AssignmentHistory) error {
	h.ID = uuid.New().String()
	h.CreatedAt = time.Now()
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO assignment_history (id, assignment_id, action, details, actor_id, created_at)
		VALUES (:id, :assignment_id, :action, :details, :actor_id, :created_at)
	`, h)
	return err
}

// GetDetail loads a request with its approvals, states and history
func (r *AssignmentRepository) GetDetail(ctx context.Context, id string) (*models.AssignmentDetail, error) {
	req, err := r.GetRequest(ctx, r.db, id)
	if err != nil || req == nil {
		return nil, err
	}
	d := &models.AssignmentDetail{
		AssignmentRequest: *req,
		Approvals:         make([]models.AssignmentApproval, 0),
		States:            make([]models.WorkflowState, 0),
		History:           make([]models.AssignmentHistory, 0),
	}
	if err := r.db.SelectContext(ctx, &d.Approvals, `
		SELECT id, assignment_id, approval_level, approver_volunteer_id, approver_role, status, comments,
			decided_by, decided_at, created_at
		FROM assignment_approvals WHERE assignment_id = $1 ORDER BY approval_level, created_at
	`, id); err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &d.States, `
		SELECT id, assignment_id, from_state, to_state, actor_id, reason, created_at
		FROM workflow_states WHERE assignment_id = $1 ORDER BY created_at
	`, id); err != nil {
		return nil, err
	}
	if err := r.db.SelectContext(ctx, &d.History, `
		SELECT id, assignment_id, action, details, actor_id, created_at
		FROM assignment_history WHERE assignment_id = $1 ORDER BY created_at
	`, id); err != nil {
		return nil, err
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Capacity
// ---------------------------------------------------------------------------

// SumConfirmedAllocation sums confirmed allocations on a crew that overlap [start, end)
func (r *AssignmentRepository) SumConfirmedAllocation(ctx context.Context, q sqlx.QueryerContext, crewID string, start, end time.Time) (int, error) {
	var sum int
	err := sqlx.GetContext(ctx, q, &sum, `
		SELECT COALESCE(SUM(allocation_percentage), 0) FROM capacity_allocations
		WHERE crew_id = $1 AND is_confirmed AND start_date < $3 AND end_date > $2
	`, crewID, start, end)
	return sum, err
}

// InsertAllocation reserves capacity (unconfirmed)
func (r *AssignmentRepository) InsertAllocation(ctx context.Context, ext sqlx.ExtContext, a *models.CapacityAllocation) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO capacity_allocations (id, crew_id, assignment_id, allocation_percentage, start_date,
			end_date, is_confirmed, created_at)
		VALUES (:id, :crew_id, :assignment_id, :allocation_percentage, :start_date, :end_date, :is_confirmed, :created_at)
	`, a)
	return err
}

// ConfirmAllocation confirms the reservations of an assignment
func (r *AssignmentRepository) ConfirmAllocation(ctx context.Context, ext sqlx.ExtContext, assignmentID string) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE capacity_allocations SET is_confirmed = true WHERE assignment_id = $1`, assignmentID)
	return err
}

// ReleaseAllocation drops the reservations of an assignment
func (r *AssignmentRepository) ReleaseAllocation(ctx context.Context, ext sqlx.ExtContext, assignmentID string) error {
	_, err := ext.ExecContext(ctx, `DELETE FROM capacity_allocations WHERE assignment_id = $1`, assignmentID)
	return err
}

// GetStats counts requests by status and type
func (r *AssignmentRepository) GetStats(ctx context.Context, cgID *string) (*models.AssignmentStats, error) {
	f := &filter{}
	if cgID != nil {
		f.add("construction_group_id = ?", *cgID)
	}
	stats := &models.AssignmentStats{ByStatus: map[string]int{}, ByType: map[string]int{}}
	rows, err := r.db.QueryxContext(ctx,
		`SELECT status, assignment_type, COUNT(*) FROM assignment_requests`+f.where()+` GROUP BY 1, 2`, f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, typ string
		var n int
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByType[typ] += n
	}
	return stats, rows.Err()
}
