// role_assignments.go coordinates role assignment writes. Every write runs in one transaction
// that also keeps the volunteer's primary role consistent and appends a role change log row
// and an audit row, so a failed audit write rolls the change back.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// ConsultationPending is the status given to assignments that require consultation.
const ConsultationPending = "pending"

// RoleAssignmentService manages role assignments and oversight positions
type RoleAssignmentService struct {
	db          *sqlx.DB
	assignments *repositories.RoleAssignmentRepository
	roles       *repositories.RoleRepository
	volunteers  *repositories.VolunteerRepository
	teams       *repositories.TradeTeamRepository
	recorder    *audit.Recorder
	now         func() time.Time
}

// NewRoleAssignmentService creates a new RoleAssignmentService
func NewRoleAssignmentService(
	db *sqlx.DB,
	assignments *repositories.RoleAssignmentRepository,
	roles *repositories.RoleRepository,
	volunteers *repositories.VolunteerRepository,
	teams *repositories.TradeTeamRepository,
	recorder *audit.Recorder,
) *RoleAssignmentService {
	return &RoleAssignmentService{
		db:          db,
		assignments: assignments,
		roles:       roles,
		volunteers:  volunteers,
		teams:       teams,
		recorder:    recorder,
		now:         time.Now,
	}
}

// CreateRoleAssignment is the input of Create
type CreateRoleAssignment struct {
	VolunteerID          string     `json:"volunteer_id"`
	RoleID               string     `json:"role_id"`
	AssignmentType       string     `json:"assignment_type"`
	Scope                string     `json:"scope"`
	EntityType           *string    `json:"entity_type"`
	EntityID             *string    `json:"entity_id"`
	IsPrimary            bool       `json:"is_primary"`
	StartDate            *time.Time `json:"start_date"`
	EndDate              *time.Time `json:"end_date"`
	ConsultationRequired bool       `json:"consultation_required"`
	Notes                *string    `json:"notes"`
}

// UpdateRoleAssignment is the input of Update. Nil fields are left alone.
type UpdateRoleAssignment struct {
	EndDate            *time.Time `json:"end_date"`
	Notes              *string    `json:"notes"`
	IsActive           *bool      `json:"is_active"`
	IsPrimary          *bool      `json:"is_primary"`
	ConsultationStatus *string    `json:"consultation_status"`
}

// BulkFailure is one volunteer that could not be assigned in Bulk
type BulkFailure struct {
	VolunteerID string `json:"volunteer_id"`
	Error       string `json:"error"`
}

// BulkResult is the outcome of Bulk
type BulkResult struct {
	Successful []*models.RoleAssignment `json:"successful"`
	Failed     []BulkFailure            `json:"failed"`
}

// Create assigns a role to a volunteer. Volunteers outside scope are reported as not found.
func (s *RoleAssignmentService) Create(ctx context.Context, actor audit.Actor, scope *string, in CreateRoleAssignment) (*models.RoleAssignment, error) {
	if in.VolunteerID == "" || in.RoleID == "" || in.AssignmentType == "" {
		return nil, invalid("volunteer_id, role_id and assignment_type are required")
	}
	role, err := s.roles.GetRole(ctx, s.db, in.RoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	if role == nil || !role.IsActive {
		return nil, invalid("Invalid or inactive role")
	}
	vol, err := s.volunteers.GetVolunteer(ctx, in.VolunteerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load volunteer: %w", err)
	}
	if vol == nil || !inGroup(scope, vol.ConstructionGroupID) {
		return nil, fmt.Errorf("volunteer %s: %w", in.VolunteerID, ErrNotFound)
	}

	a := &models.RoleAssignment{
		VolunteerID:          in.VolunteerID,
		RoleID:               in.RoleID,
		AssignmentType:       in.AssignmentType,
		Scope:                in.Scope,
		EntityType:           in.EntityType,
		EntityID:             in.EntityID,
		IsPrimary:            in.IsPrimary,
		IsActive:             true,
		EndDate:              in.EndDate,
		ConsultationRequired: in.ConsultationRequired,
		Notes:                in.Notes,
	}
	if in.StartDate != nil {
		a.StartDate = *in.StartDate
	}
	if actor.UserID != "" {
		a.AssignedBy = &actor.UserID
	}
	if in.ConsultationRequired {
		status := ConsultationPending
		a.ConsultationStatus = &status
	}

	var entry *models.AuditLog
	err = pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		entry, err = s.insert(ctx, tx, actor, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.committed(entry, models.ChangeAssigned)
	a.RoleCode, a.RoleName, a.RoleCategory = role.Code, role.Name, role.Category
	a.VolunteerFirstName, a.VolunteerLastName = vol.FirstName, vol.LastName
	return a, nil
}

// insert runs the duplicate check, primary maintenance, insert, change log and audit inside tx.
func (s *RoleAssignmentService) insert(ctx context.Context, tx *sqlx.Tx, actor audit.Actor, a *models.RoleAssignment) (*models.AuditLog, error) {
	exists, err := s.assignments.ExistsActive(ctx, tx, a.VolunteerID, a.RoleID, a.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing assignment: %w", err)
	}
	if exists {
		return nil, repositories.ErrDuplicateAssignment
	}

	active, err := s.assignments.CountActiveForVolunteer(ctx, tx, a.VolunteerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	if active == 0 {
		a.IsPrimary = true
	}
	if a.IsPrimary {
		if err := s.assignments.ClearPrimary(ctx, tx, a.VolunteerID, ""); err != nil {
			return nil, fmt.Errorf("failed to clear primary: %w", err)
		}
	}

	if err := s.assignments.InsertAssignment(ctx, tx, a); err != nil {
		return nil, err
	}
	return s.log(ctx, tx, actor, a, models.ChangeAssigned, nil, a)
}

// log writes the change log and audit rows for one assignment change.
func (s *RoleAssignmentService) log(ctx context.Context, tx *sqlx.Tx, actor audit.Actor, a *models.RoleAssignment, change string, oldData, newData interface{}) (*models.AuditLog, error) {
	cl := &models.RoleChangeLog{
		VolunteerID: &a.VolunteerID,
		RoleID:      &a.RoleID,
		Action:      change,
		OldData:     models.MustJSON(oldData),
		NewData:     models.MustJSON(newData),
	}
	if change != models.ChangeRemoved {
		cl.RoleAssignmentID = &a.ID
	}
	if actor.UserID != "" {
		cl.PerformedBy = &actor.UserID
	}
	if err := s.assignments.InsertChangeLog(ctx, tx, cl); err != nil {
		return nil, fmt.Errorf("failed to write role change log: %w", err)
	}

	entry := audit.Build(actor, audit.Event{
		Action:     models.ActionRoleChange,
		Resource:   models.ResourceRoleAssignment,
		ResourceID: a.ID,
		OldValues:  oldData,
		NewValues:  newData,
		Metadata:   map[string]interface{}{"change": change, "volunteer_id": a.VolunteerID, "role_id": a.RoleID},
	})
	if err := s.recorder.RecordTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to write audit log: %w", err)
	}
	return entry, nil
}

func (s *RoleAssignmentService) committed(entry *models.AuditLog, change string) {
	telemetry.RoleAssignmentChangesTotal.WithLabelValues(change).Inc()
	if entry != nil {
		s.recorder.Ship(entry)
	}
}

// Update changes the mutable fields of an assignment. Setting is_primary swaps the primary
// role; deactivating an assignment also clears its primary flag.
func (s *RoleAssignmentService) Update(ctx context.Context, actor audit.Actor, id string, in UpdateRoleAssignment) (*models.RoleAssignment, error) {
	var (
		out    *models.RoleAssignment
		entry  *models.AuditLog
		change = models.ChangeUpdated
	)
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		a, err := s.assignments.GetAssignment(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to load assignment: %w", err)
		}
		if a == nil {
			return ErrNotFound
		}
		old := *a

		if in.EndDate != nil {
			a.EndDate = in.EndDate
		}
		if in.Notes != nil {
			a.Notes = in.Notes
		}
		if in.ConsultationStatus != nil {
			a.ConsultationStatus = in.ConsultationStatus
		}
		if in.IsActive != nil {
			a.IsActive = *in.IsActive
		}
		if in.IsPrimary != nil {
			a.IsPrimary = *in.IsPrimary
		}
		if a.IsPrimary && !a.IsActive {
			if in.IsPrimary != nil && *in.IsPrimary {
				return invalid("An inactive assignment cannot be primary")
			}
			a.IsPrimary = false
		}
		if a.IsPrimary && !old.IsPrimary {
			if err := s.assignments.ClearPrimary(ctx, tx, a.VolunteerID, a.ID); err != nil {
				return fmt.Errorf("failed to clear primary: %w", err)
			}
		}
		if err := s.assignments.UpdateAssignment(ctx, tx, a); err != nil {
			return err
		}

		if a.IsPrimary && !old.IsPrimary {
			change = models.ChangePrimarySwapped
		}
		entry, err = s.log(ctx, tx, actor, a, change, &old, a)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	s.committed(entry, change)
	return out, nil
}

// Delete removes an assignment unconditionally. No other assignment is promoted to primary.
func (s *RoleAssignmentService) Delete(ctx context.Context, actor audit.Actor, id string) error {
	var entry *models.AuditLog
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		a, err := s.assignments.GetAssignment(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to load assignment: %w", err)
		}
		if a == nil {
			return ErrNotFound
		}
		if _, err := s.assignments.DeleteAssignment(ctx, tx, id); err != nil {
			return fmt.Errorf("failed to delete assignment: %w", err)
		}
		entry, err = s.log(ctx, tx, actor, a, models.ChangeRemoved, a, nil)
		return err
	})
	if err != nil {
		return err
	}
	s.committed(entry, models.ChangeRemoved)
	return nil
}

// SetPrimary makes id the volunteer's primary assignment.
func (s *RoleAssignmentService) SetPrimary(ctx context.Context, actor audit.Actor, id string) (*models.RoleAssignment, error) {
	var (
		out   *models.RoleAssignment
		entry *models.AuditLog
	)
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		a, err := s.assignments.GetAssignment(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to load assignment: %w", err)
		}
		if a == nil {
			return ErrNotFound
		}
		if !a.IsActive {
			return invalid("An inactive assignment cannot be primary")
		}
		old := *a
		if err := s.assignments.ClearPrimary(ctx, tx, a.VolunteerID, a.ID); err != nil {
			return fmt.Errorf("failed to clear primary: %w", err)
		}
		if err := s.assignments.SetPrimary(ctx, tx, a.ID); err != nil {
			return err
		}
		a.IsPrimary = true
		entry, err = s.log(ctx, tx, actor, a, models.ChangePrimarySwapped, &old, a)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	s.committed(entry, models.ChangePrimarySwapped)
	return out, nil
}

// Bulk assigns one role to many volunteers. Each volunteer gets its own transaction.
func (s *RoleAssignmentService) Bulk(ctx context.Context, actor audit.Actor, scope *string, volunteerIDs []string, template CreateRoleAssignment) *BulkResult {
	res := &BulkResult{Successful: make([]*models.RoleAssignment, 0), Failed: make([]BulkFailure, 0)}
	for _, vid := range volunteerIDs {
		in := template
		in.VolunteerID = vid
		a, err := s.Create(ctx, actor, scope, in)
		if err != nil {
			res.Failed = append(res.Failed, BulkFailure{VolunteerID: vid, Error: ErrorMessage(err)})
			continue
		}
		res.Successful = append(res.Successful, a)
	}
	return res
}

// ExpireEnded deactivates assignments whose end date has passed and logs each one.
func (s *RoleAssignmentService) ExpireEnded(ctx context.Context) (int, error) {
	expired, err := s.assignments.ExpireEnded(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire assignments: %w", err)
	}
	for _, a := range expired {
		cl := &models.RoleChangeLog{
			RoleAssignmentID: &a.ID,
			VolunteerID:      &a.VolunteerID,
			RoleID:           &a.RoleID,
			Action:           models.ChangeExpired,
			NewData:          models.MustJSON(map[string]interface{}{"end_date": a.EndDate}),
		}
		if err := s.assignments.InsertChangeLog(ctx, s.db, cl); err != nil {
			return len(expired), fmt.Errorf("failed to log expiry of %s: %w", a.ID, err)
		}
		telemetry.RoleAssignmentChangesTotal.WithLabelValues(models.ChangeExpired).Inc()
	}
	return len(expired), nil
}

// ErrorMessage renders a service error for an API response.
func ErrorMessage(err error) string {
	switch {
	case IsValidation(err):
		return err.Error()
	case errors.Is(err, ErrNotFound):
		return "Volunteer not found"
	case errors.Is(err, repositories.ErrDuplicateAssignment):
		return "Role assignment already exists for this volunteer, role, and scope"
	case errors.Is(err, repositories.ErrPrimaryConflict):
		return "Volunteer already has an active primary role"
	case errors.Is(err, ErrRoleLimitReached):
		return err.Error()
	}
	return "Failed to create role assignment"
}
