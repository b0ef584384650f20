package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

var (
	// ErrNoGroup is returned when a caller without a construction group submits group-owned work.
	ErrNoGroup = errors.New("no construction group assigned")
	// ErrForbidden is returned when the caller may not perform the operation on the record.
	ErrForbidden = errors.New("forbidden")
)

// CompletionMailer sends the crew request completion notice. *email.Service satisfies it.
type CompletionMailer interface {
	Configured(ctx context.Context) bool
	SendCrewRequestCompleted(ctx context.Context, to string, d email.CrewRequestDetails) error
}

// CrewRequestService runs the crew change request workflow
type CrewRequestService struct {
	requests    *repositories.CrewRequestRepository
	users       *repositories.UserRepository
	assignments *repositories.RoleAssignmentRepository
	mail        CompletionMailer
	now         func() time.Time
}

// NewCrewRequestService creates a CrewRequestService. mail may be nil.
func NewCrewRequestService(requests *repositories.CrewRequestRepository, users *repositories.UserRepository,
	assignments *repositories.RoleAssignmentRepository, mail CompletionMailer) *CrewRequestService {
	return &CrewRequestService{requests: requests, users: users, assignments: assignments, mail: mail, now: time.Now}
}

// CrewRequestInput is a new request as submitted
type CrewRequestInput struct {
	RequestType            string
	VolunteerName          string
	VolunteerBAID          *string
	TradeTeamID            *string
	CrewID                 *string
	CrewName               *string
	ProjectID              *string
	ProjectRosterName      *string
	Comments               *string
	OverrideRequestorName  string
	OverrideRequestorEmail string
}

// CrewRequestChange is a partial update. Nil fields are left alone; an empty AssignedToID unassigns.
type CrewRequestChange struct {
	Status              *string
	AssignedToID        *string
	ResolutionNotes     *string
	SendCompletionEmail bool
}

// Submit records a request in the submitter's construction group. A SUPER_ADMIN may submit
// on behalf of someone else by giving both override fields.
func (s *CrewRequestService) Submit(ctx context.Context, by *models.User, in CrewRequestInput) (*models.CrewChangeRequest, error) {
	reqType := strings.ToUpper(strings.TrimSpace(in.RequestType))
	name := validation.Text(in.VolunteerName)
	if reqType == "" || name == "" {
		return nil, invalid("Request type and volunteer name are required")
	}
	if !models.IsValidCrewRequestType(reqType) {
		return nil, invalid("Invalid request type")
	}
	if by.ConstructionGroupID == nil || *by.ConstructionGroupID == "" {
		return nil, ErrNoGroup
	}

	cr := &models.CrewChangeRequest{
		ConstructionGroupID: *by.ConstructionGroupID,
		RequestType:         reqType,
		RequestorName:       by.DisplayName(),
		RequestorEmail:      by.Email,
		VolunteerName:       name,
		VolunteerBAID:       validation.TextPtr(in.VolunteerBAID),
		TradeTeamID:         nonEmpty(in.TradeTeamID),
		CrewID:              nonEmpty(in.CrewID),
		CrewName:            validation.TextPtr(in.CrewName),
		ProjectID:           nonEmpty(in.ProjectID),
		ProjectRosterName:   validation.TextPtr(in.ProjectRosterName),
		Comments:            validation.Notes(in.Comments),
		SubmittedByID:       &by.ID,
	}
	overrideName := validation.Text(in.OverrideRequestorName)
	overrideEmail := validation.NormalizeEmail(in.OverrideRequestorEmail)
	if by.Role == models.RoleSuperAdmin && overrideName != "" && overrideEmail != "" {
		if err := validation.Email(overrideEmail); err != nil {
			return nil, invalid("%s", err.Error())
		}
		cr.RequestorName, cr.RequestorEmail = overrideName, overrideEmail
	}

	if err := s.requests.CreateRequest(ctx, cr); err != nil {
		return nil, fmt.Errorf("failed to create crew request: %w", err)
	}
	return cr, nil
}

// Get returns a request reachable by scope
func (s *CrewRequestService) Get(ctx context.Context, scope *string, id string) (*models.CrewChangeRequest, error) {
	cr, err := s.requests.GetRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load crew request: %w", err)
	}
	if cr == nil || !inGroup(scope, &cr.ConstructionGroupID) {
		return nil, fmt.Errorf("crew request %s: %w", id, ErrNotFound)
	}
	return cr, nil
}

// Update applies a change. Completing stamps completion time and user; assigning someone to
// a request that is not complete moves it to IN_PROGRESS. The completion email is optional
// and its failure does not fail the update; the returned bool reports whether it was sent.
func (s *CrewRequestService) Update(ctx context.Context, scope *string, by *models.User, id string, ch CrewRequestChange) (*models.CrewChangeRequest, bool, error) {
	cr, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, false, err
	}

	if ch.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*ch.Status))
		if !models.IsValidCrewRequestStatus(status) {
			return nil, false, invalid("Invalid status")
		}
		cr.Status = status
		if status == models.CrewRequestCompleted {
			now := s.now()
			cr.CompletedAt, cr.CompletedByID = &now, &by.ID
		} else {
			cr.CompletedAt, cr.CompletedByID = nil, nil
		}
	}

	if ch.AssignedToID != nil {
		assignee := strings.TrimSpace(*ch.AssignedToID)
		if assignee == "" {
			cr.AssignedToID = nil
		} else {
			u, err := s.users.GetUserByID(ctx, assignee)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load assignee: %w", err)
			}
			if u == nil || !u.IsActive || (!inGroup(scope, u.ConstructionGroupID) && u.Role != models.RoleSuperAdmin) {
				return nil, false, invalid("Assignee not found")
			}
			cr.AssignedToID = &u.ID
			if cr.Status != models.CrewRequestCompleted {
				cr.Status = models.CrewRequestInProgress
			}
		}
	}

	if ch.ResolutionNotes != nil {
		cr.ResolutionNotes = validation.Notes(ch.ResolutionNotes)
	}

	if err := s.requests.UpdateRequest(ctx, cr); err != nil {
		return nil, false, fmt.Errorf("failed to update crew request: %w", err)
	}
	updated, err := s.requests.GetRequest(ctx, cr.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload crew request: %w", err)
	}
	if updated == nil {
		return nil, false, fmt.Errorf("crew request %s: %w", id, ErrNotFound)
	}

	sent := false
	if updated.Status == models.CrewRequestCompleted && ch.SendCompletionEmail {
		sent = s.notifyCompleted(ctx, updated, by)
	}
	return updated, sent, nil
}

func (s *CrewRequestService) notifyCompleted(ctx context.Context, cr *models.CrewChangeRequest, by *models.User) bool {
	if s.mail == nil || !s.mail.Configured(ctx) {
		slog.Info("crew request completion email skipped, email is not configured", "request_id", cr.ID)
		return false
	}
	d := email.CrewRequestDetails{
		RequestorName: cr.RequestorName,
		VolunteerName: cr.VolunteerName,
		RequestType:   models.CrewRequestTypeLabels[cr.RequestType],
		CompletedBy:   by.DisplayName(),
	}
	if cr.CrewName != nil {
		d.CrewName = *cr.CrewName
	}
	if cr.ProjectRosterName != nil {
		d.ProjectName = *cr.ProjectRosterName
	}
	if cr.ResolutionNotes != nil {
		d.Notes = *cr.ResolutionNotes
	}
	if err := s.mail.SendCrewRequestCompleted(ctx, cr.RequestorEmail, d); err != nil {
		slog.Warn("failed to send crew request completion email", "request_id", cr.ID, "error", email.ClassifyError(err))
		return false
	}
	return true
}

// CanDelete reports whether by may delete requests: administrators and holders of a
// personnel contact role.
func (s *CrewRequestService) CanDelete(ctx context.Context, by *models.User) (bool, error) {
	if by.Role == models.RoleAdmin || by.Role == models.RoleSuperAdmin {
		return true, nil
	}
	return s.assignments.UserHoldsRole(ctx, by.ID, models.PersonnelRoleCodes)
}

// Delete removes a request reachable by scope
func (s *CrewRequestService) Delete(ctx context.Context, scope *string, by *models.User, id string) error {
	ok, err := s.CanDelete(ctx, by)
	if err != nil {
		return fmt.Errorf("failed to check personnel roles: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	if _, err := s.Get(ctx, scope, id); err != nil {
		return err
	}
	found, err := s.requests.DeleteRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete crew request: %w", err)
	}
	if !found {
		return fmt.Errorf("crew request %s: %w", id, ErrNotFound)
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
