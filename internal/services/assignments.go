// assignments.go runs the assignment request workflow: validation, crew capacity reservation,
// approver resolution from oversight roles, approval decisions and post-approval transitions.
// Each operation runs in one transaction that also writes the workflow state, history and
// audit rows.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
	"github.com/ldc-construction/ldc-tools/internal/workflow"
)

// Decisions accepted by Decide.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// AssignmentService processes assignment requests
type AssignmentService struct {
	db              *sqlx.DB
	requests        *repositories.AssignmentRepository
	roleAssignments *repositories.RoleAssignmentRepository
	teams           *repositories.TradeTeamRepository
	volunteers      *repositories.VolunteerRepository
	recorder        *audit.Recorder
	now             func() time.Time
}

// NewAssignmentService creates a new AssignmentService
func NewAssignmentService(
	db *sqlx.DB,
	requests *repositories.AssignmentRepository,
	roleAssignments *repositories.RoleAssignmentRepository,
	teams *repositories.TradeTeamRepository,
	volunteers *repositories.VolunteerRepository,
	recorder *audit.Recorder,
) *AssignmentService {
	return &AssignmentService{
		db:              db,
		requests:        requests,
		roleAssignments: roleAssignments,
		teams:           teams,
		volunteers:      volunteers,
		recorder:        recorder,
		now:             time.Now,
	}
}

// CreateAssignment is the input of Create
type CreateAssignment struct {
	VolunteerID    *string     `json:"volunteer_id"`
	AssignmentType string      `json:"assignment_type"`
	PriorityLevel  int         `json:"priority_level"`
	RequestedRole  *string     `json:"requested_role"`
	ProjectID      *string     `json:"project_id"`
	TradeTeamID    *string     `json:"trade_team_id"`
	CrewID         *string     `json:"crew_id"`
	StartDate      time.Time   `json:"start_date"`
	EndDate        *time.Time  `json:"end_date"`
	Description    *string     `json:"description"`
	Requirements   models.JSON `json:"requirements"`
}

// CapacityCheck reports a crew's free capacity for a window
type CapacityCheck struct {
	CrewID    string    `json:"crew_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Allocated int       `json:"allocated"`
	Available int       `json:"available"`
	HasRoom   bool      `json:"has_room"`
}

// Capacity returns the confirmed allocation and free share of a crew for [start, end or start+8h].
// Crews outside scope are reported as missing.
func (s *AssignmentService) Capacity(ctx context.Context, scope *string, crewID string, start time.Time, end *time.Time) (*CapacityCheck, error) {
	crew, err := s.scopedCrew(ctx, scope, crewID)
	if err != nil {
		return nil, err
	}
	if crew == nil {
		return nil, invalid("Crew not found")
	}
	return s.capacity(ctx, s.db, crewID, start, end)
}

func (s *AssignmentService) capacity(ctx context.Context, q sqlx.QueryerContext, crewID string, start time.Time, end *time.Time) (*CapacityCheck, error) {
	from, to := workflow.Window(start, end)
	used, err := s.requests.SumConfirmedAllocation(ctx, q, crewID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum allocations: %w", err)
	}
	avail := workflow.Available(used)
	return &CapacityCheck{CrewID: crewID, Start: from, End: to, Allocated: used, Available: avail, HasRoom: avail > 0}, nil
}

// Create validates and files a request, reserves crew capacity and opens the first approval.
// The crew must belong to a team in scope.
func (s *AssignmentService) Create(ctx context.Context, actor audit.Actor, user *models.User, scope *string, in CreateAssignment) (*models.AssignmentRequest, error) {
	req := &models.AssignmentRequest{
		RequesterID:          user.ID,
		VolunteerID:          in.VolunteerID,
		AssignmentType:       strings.ToLower(in.AssignmentType),
		PriorityLevel:        in.PriorityLevel,
		RequestedRole:        in.RequestedRole,
		ProjectID:            in.ProjectID,
		TradeTeamID:          in.TradeTeamID,
		CrewID:               in.CrewID,
		ConstructionGroupID:  user.ConstructionGroupID,
		StartDate:            in.StartDate,
		EndDate:              in.EndDate,
		Description:          in.Description,
		Requirements:         in.Requirements,
		Status:               workflow.Initial,
		CurrentApprovalLevel: workflow.LevelSupervisor,
	}
	if req.StartDate.IsZero() {
		return nil, invalid("start_date is required")
	}
	if err := workflow.Validate(req, s.now()); err != nil {
		return nil, invalid("%s", err.Error())
	}
	if req.CrewID != nil {
		crew, err := s.scopedCrew(ctx, scope, *req.CrewID)
		if err != nil {
			return nil, err
		}
		if crew == nil {
			return nil, invalid("Crew not found")
		}
		if req.TradeTeamID != nil && *req.TradeTeamID != crew.TradeTeamID {
			return nil, invalid("Crew does not belong to the specified trade team")
		}
		req.TradeTeamID = &crew.TradeTeamID
	}

	var entry *models.AuditLog
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		percent := workflow.AllocationPercent(req.AssignmentType)
		if req.CrewID != nil {
			if _, err := s.teams.LockCrew(ctx, tx, *req.CrewID); err != nil {
				return fmt.Errorf("failed to lock crew: %w", err)
			}
			check, err := s.capacity(ctx, tx, *req.CrewID, req.StartDate, req.EndDate)
			if err != nil {
				return err
			}
			if !check.HasRoom && req.AssignmentType != models.AssignmentEmergency {
				return fmt.Errorf("%w: available %d%%", ErrNoCapacity, check.Available)
			}
		}

		if err := s.requests.CreateRequest(ctx, tx, req); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if req.CrewID != nil {
			from, to := workflow.Window(req.StartDate, req.EndDate)
			if err := s.requests.InsertAllocation(ctx, tx, &models.CapacityAllocation{
				CrewID:               *req.CrewID,
				AssignmentID:         req.ID,
				AllocationPercentage: percent,
				StartDate:            from,
				EndDate:              to,
			}); err != nil {
				return fmt.Errorf("failed to reserve capacity: %w", err)
			}
		}
		if err := s.openApproval(ctx, tx, req, workflow.LevelSupervisor); err != nil {
			return err
		}
		if err := s.record(ctx, tx, req, nil, workflow.Initial, actor.UserID, "created", nil); err != nil {
			return err
		}

		var err error
		entry = audit.Build(actor, audit.Event{
			Action:     models.ActionCreate,
			Resource:   models.ResourceAssignment,
			ResourceID: req.ID,
			NewValues:  req,
		})
		if err = s.recorder.RecordTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Ship(entry)
	telemetry.WorkflowTransitionsTotal.WithLabelValues(req.AssignmentType, req.Status).Inc()
	return req, nil
}

// resolveApprover finds the volunteer who approves level for req. Level 1 is the crew's TCO,
// falling back to the team's TTO; level 2 a PC and level 3 the CGO of the construction group.
func (s *AssignmentService) resolveApprover(ctx context.Context, q sqlx.QueryerContext, req *models.AssignmentRequest, level int) (*models.RoleAssignment, string, error) {
	switch level {
	case workflow.LevelSupervisor:
		if req.CrewID != nil {
			h, err := s.roleAssignments.FindActiveHolder(ctx, q, models.RoleCodeTCO, models.EntityCrew, *req.CrewID)
			if err != nil || h != nil {
				return h, models.RoleCodeTCO, err
			}
		}
		if req.TradeTeamID != nil {
			h, err := s.roleAssignments.FindActiveHolder(ctx, q, models.RoleCodeTTO, models.EntityTradeTeam, *req.TradeTeamID)
			return h, models.RoleCodeTTO, err
		}
		return nil, models.RoleCodeTCO, nil
	default:
		code := workflow.ApproverRole(level)
		h, err := s.roleAssignments.FindActiveInGroup(ctx, q, code, req.ConstructionGroupID)
		return h, code, err
	}
}

func (s *AssignmentService) openApproval(ctx context.Context, tx *sqlx.Tx, req *models.AssignmentRequest, level int) error {
	holder, code, err := s.resolveApprover(ctx, tx, req, level)
	if err != nil {
		return fmt.Errorf("failed to resolve approver: %w", err)
	}
	ap := &models.AssignmentApproval{AssignmentID: req.ID, ApprovalLevel: level, ApproverRole: code}
	if holder != nil {
		ap.ApproverVolunteerID = &holder.VolunteerID
	}
	if err := s.requests.InsertApproval(ctx, tx, ap); err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// record writes the workflow state and history rows of one status change.
func (s *AssignmentService) record(ctx context.Context, tx *sqlx.Tx, req *models.AssignmentRequest, from *string, to, actorID, action string, details map[string]interface{}) error {
	var actorPtr *string
	if actorID != "" {
		actorPtr = &actorID
	}
	var reason *string
	if c, ok := details["comments"].(string); ok && c != "" {
		reason = &c
	}
	if err := s.requests.InsertState(ctx, tx, &models.WorkflowState{
		AssignmentID: req.ID,
		FromState:    from,
		ToState:      to,
		ActorID:      actorPtr,
		Reason:       reason,
	}); err != nil {
		return fmt.Errorf("failed to record workflow state: %w", err)
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	if from != nil {
		details["from"] = *from
	}
	details["to"] = to
	if err := s.requests.InsertHistory(ctx, tx, &models.AssignmentHistory{
		AssignmentID: req.ID,
		Action:       action,
		Details:      models.MustJSON(details),
		ActorID:      actorPtr,
	}); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

// Decide applies an approval decision by user on the pending step of request id.
func (s *AssignmentService) Decide(ctx context.Context, actor audit.Actor, user *models.User, id, decision string, comments *string) (*models.AssignmentRequest, error) {
	switch strings.ToLower(decision) {
	case "approve", "approved":
		decision = DecisionApprove
	case "reject", "rejected":
		decision = DecisionReject
	default:
		return nil, invalid("decision must be approve or reject")
	}

	var (
		req   *models.AssignmentRequest
		entry *models.AuditLog
	)
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.requests.GetRequestForUpdate(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to load request: %w", err)
		}
		if req == nil {
			return ErrNotFound
		}
		level := workflow.LevelFor(req.Status)
		if level == 0 {
			return &workflow.TransitionError{
				From:    req.Status,
				To:      workflow.StatusApproved,
				Allowed: workflow.Allowed(req.AssignmentType, req.Status),
			}
		}
		ap, err := s.requests.GetPendingApproval(ctx, tx, req.ID, level)
		if err != nil {
			return fmt.Errorf("failed to load approval: %w", err)
		}
		if ap == nil {
			return ErrNotApprover
		}
		if err := s.checkAuthority(ctx, user, ap); err != nil {
			return err
		}

		from := req.Status
		var to string
		if decision == DecisionApprove {
			if to, err = workflow.NextOnApproval(req.AssignmentType, from); err != nil {
				return err
			}
			if err := s.requests.DecideApproval(ctx, tx, ap.ID, models.ApprovalApproved, comments, user.ID); err != nil {
				return fmt.Errorf("failed to record decision: %w", err)
			}
		} else {
			to = workflow.StatusRejected
			if err := s.requests.DecideApproval(ctx, tx, ap.ID, models.ApprovalRejected, comments, user.ID); err != nil {
				return fmt.Errorf("failed to record decision: %w", err)
			}
		}

		nextLevel := workflow.LevelFor(to)
		if nextLevel == 0 {
			nextLevel = level
		}
		if err := s.requests.UpdateStatus(ctx, tx, req.ID, to, nextLevel); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		switch {
		case to == workflow.StatusApproved:
			if err := s.requests.ConfirmAllocation(ctx, tx, req.ID); err != nil {
				return fmt.Errorf("failed to confirm capacity: %w", err)
			}
		case to == workflow.StatusRejected:
			if err := s.requests.ReleaseAllocation(ctx, tx, req.ID); err != nil {
				return fmt.Errorf("failed to release capacity: %w", err)
			}
		case workflow.IsPending(to):
			req.Status = to
			if err := s.openApproval(ctx, tx, req, nextLevel); err != nil {
				return err
			}
		}

		details := map[string]interface{}{"level": level, "decision": decision}
		if comments != nil {
			details["comments"] = *comments
		}
		if err := s.record(ctx, tx, req, &from, to, user.ID, "approval_decision", details); err != nil {
			return err
		}

		entry = audit.Build(actor, audit.Event{
			Action:     models.ActionUpdate,
			Resource:   models.ResourceAssignment,
			ResourceID: req.ID,
			OldValues:  map[string]interface{}{"status": from},
			NewValues:  map[string]interface{}{"status": to},
			Metadata:   details,
		})
		if err := s.recorder.RecordTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		req.Status, req.CurrentApprovalLevel = to, nextLevel
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Ship(entry)
	telemetry.WorkflowTransitionsTotal.WithLabelValues(req.AssignmentType, req.Status).Inc()
	return req, nil
}

// checkAuthority requires user to be linked to the volunteer named on the approval. A step
// with no resolved approver may be decided by an administrator.
func (s *AssignmentService) checkAuthority(ctx context.Context, user *models.User, ap *models.AssignmentApproval) error {
	if ap.ApproverVolunteerID == nil {
		if user.IsAdmin() && user.Role != models.RoleReadOnlyAdmin {
			return nil
		}
		return ErrNotApprover
	}
	vol, err := s.volunteers.GetVolunteerByUserID(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load volunteer for user: %w", err)
	}
	if vol == nil || vol.ID != *ap.ApproverVolunteerID {
		return ErrNotApprover
	}
	return nil
}

// Transition moves an approved request along the table (schedule, start, complete, cancel).
// Pending requests only move through Decide.
func (s *AssignmentService) Transition(ctx context.Context, actor audit.Actor, id, to string, reason *string) (*models.AssignmentRequest, error) {
	var (
		req   *models.AssignmentRequest
		entry *models.AuditLog
	)
	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		req, err = s.requests.GetRequestForUpdate(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to load request: %w", err)
		}
		if req == nil {
			return ErrNotFound
		}
		from := req.Status
		if workflow.IsPending(from) || workflow.IsPending(to) {
			allowed := make([]string, 0)
			if !workflow.IsPending(from) {
				allowed = workflow.Allowed(req.AssignmentType, from)
			}
			return &workflow.TransitionError{From: from, To: to, Allowed: allowed}
		}
		if err := workflow.Check(req.AssignmentType, from, to); err != nil {
			return err
		}
		if err := s.requests.UpdateStatus(ctx, tx, req.ID, to, req.CurrentApprovalLevel); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		if to == workflow.StatusCancelled {
			if err := s.requests.ReleaseAllocation(ctx, tx, req.ID); err != nil {
				return fmt.Errorf("failed to release capacity: %w", err)
			}
		}

		details := map[string]interface{}{}
		if reason != nil {
			details["comments"] = *reason
		}
		if err := s.record(ctx, tx, req, &from, to, actor.UserID, "status_change", details); err != nil {
			return err
		}
		entry = audit.Build(actor, audit.Event{
			Action:     models.ActionUpdate,
			Resource:   models.ResourceAssignment,
			ResourceID: req.ID,
			OldValues:  map[string]interface{}{"status": from},
			NewValues:  map[string]interface{}{"status": to},
		})
		if err := s.recorder.RecordTx(ctx, tx, entry); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}
		req.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.Ship(entry)
	telemetry.WorkflowTransitionsTotal.WithLabelValues(req.AssignmentType, req.Status).Inc()
	return req, nil
}

// IsConflict reports whether err should be answered with 409.
func IsConflict(err error) bool {
	return errors.Is(err, workflow.ErrInvalidTransition) ||
		errors.Is(err, repositories.ErrDuplicateAssignment) ||
		errors.Is(err, repositories.ErrPrimaryConflict)
}
