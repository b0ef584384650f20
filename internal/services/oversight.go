package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
)

// OversightScope is the assignment scope used for a position on an entity.
func OversightScope(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// OversightView is the response of the oversight listing
type OversightView struct {
	Oversight []*models.RoleAssignment            `json:"oversight"`
	Grouped   map[string][]*models.RoleAssignment `json:"grouped"`
	Config    []models.OversightLimit             `json:"config"`
}

// ListOversight returns the active positions on an entity grouped by role code.
func (s *RoleAssignmentService) ListOversight(ctx context.Context, entityType, entityID string) (*OversightView, error) {
	active := true
	list, err := s.assignments.ListAssignments(ctx, repositories.RoleAssignmentFilters{
		EntityType: entityType,
		EntityID:   entityID,
		IsActive:   &active,
	})
	if err != nil {
		return nil, err
	}
	catalog := models.OversightCatalog(entityType)
	view := &OversightView{Oversight: list, Grouped: make(map[string][]*models.RoleAssignment, len(catalog)), Config: catalog}
	for _, l := range catalog {
		view.Grouped[l.Code] = make([]*models.RoleAssignment, 0)
	}
	for _, a := range list {
		view.Grouped[a.RoleCode] = append(view.Grouped[a.RoleCode], a)
	}
	return view, nil
}

// AddOversight places a volunteer in an oversight position. The entity row is locked while
// holders are counted so two concurrent requests cannot both take the last seat. The volunteer
// must be in scope.
func (s *RoleAssignmentService) AddOversight(ctx context.Context, actor audit.Actor, scope *string, entityType, entityID, volunteerID, roleCode string) (*models.RoleAssignment, error) {
	limit, ok := models.FindOversightLimit(entityType, roleCode)
	if !ok {
		codes := make([]string, 0, 3)
		for _, l := range models.OversightCatalog(entityType) {
			codes = append(codes, l.Code)
		}
		return nil, invalid("Invalid role. Must be one of: %s", joinCodes(codes))
	}
	if volunteerID == "" {
		return nil, invalid("user_id or volunteer_id is required")
	}
	role, err := s.roles.GetRoleByCode(ctx, s.db, roleCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	if role == nil || !role.IsActive {
		return nil, invalid("Role %s is not configured", roleCode)
	}
	vol, err := s.volunteers.GetVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load volunteer: %w", err)
	}
	if vol == nil || !inGroup(scope, vol.ConstructionGroupID) {
		return nil, fmt.Errorf("volunteer %s: %w", volunteerID, ErrNotFound)
	}

	et, eid := entityType, entityID
	a := &models.RoleAssignment{
		VolunteerID:    volunteerID,
		RoleID:         role.ID,
		AssignmentType: "oversight",
		Scope:          OversightScope(entityType, entityID),
		EntityType:     &et,
		EntityID:       &eid,
		IsActive:       true,
	}
	if actor.UserID != "" {
		a.AssignedBy = &actor.UserID
	}

	var entry *models.AuditLog
	err = pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		lock := s.teams.LockTradeTeam
		if entityType == models.EntityCrew {
			lock = s.teams.LockCrew
		}
		found, err := lock(ctx, tx, entityID)
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", entityType, err)
		}
		if !found {
			return ErrNotFound
		}

		if limit.Max > 0 {
			n, err := s.assignments.CountActiveHolders(ctx, tx, entityType, entityID, role.ID)
			if err != nil {
				return fmt.Errorf("failed to count holders: %w", err)
			}
			if n >= limit.Max {
				return &LimitError{Role: roleCode, Max: limit.Max}
			}
		}
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

// EndOversight soft-deletes a position: is_active false and end_date now.
func (s *RoleAssignmentService) EndOversight(ctx context.Context, actor audit.Actor, entityType, entityID, id string) error {
	var entry *models.AuditLog
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		a, err := s.assignments.GetAssignment(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to load assignment: %w", err)
		}
		if a == nil || a.EntityType == nil || *a.EntityType != entityType || a.EntityID == nil || *a.EntityID != entityID {
			return ErrNotFound
		}
		if err := s.assignments.DeactivateAssignment(ctx, tx, id); err != nil {
			return fmt.Errorf("failed to deactivate assignment: %w", err)
		}
		old := *a
		now := s.now()
		a.IsActive, a.IsPrimary, a.EndDate = false, false, &now
		entry, err = s.log(ctx, tx, actor, a, models.ChangeDeactivated, &old, a)
		return err
	})
	if err != nil {
		return err
	}
	s.committed(entry, models.ChangeDeactivated)
	return nil
}

// GetOversight returns a position when it belongs to the entity.
func (s *RoleAssignmentService) GetOversight(ctx context.Context, entityType, entityID, id string) (*models.RoleAssignment, error) {
	a, err := s.assignments.GetAssignment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.EntityType == nil || *a.EntityType != entityType || a.EntityID == nil || *a.EntityID != entityID {
		return nil, nil
	}
	return a, nil
}
