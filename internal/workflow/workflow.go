// Package workflow holds the assignment request state machine: the transition table for each
// assignment type, the approval level that owns each pending state, request validation and
// the capacity share reserved per type.
package workflow

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// Statuses of an assignment request.
const (
	StatusPendingSupervisor  = "pending_supervisor_approval"
	StatusPendingCoordinator = "pending_coordinator_approval"
	StatusPendingManager     = "pending_manager_approval"
	StatusApproved           = "approved"
	StatusRejected           = "rejected"
	StatusScheduled          = "scheduled"
	StatusInProgress         = "in_progress"
	StatusCompleted          = "completed"
	StatusCancelled          = "cancelled"
)

// Initial is the status every new request starts in.
const Initial = StatusPendingSupervisor

// Approval levels and the role code that resolves each one.
const (
	LevelSupervisor  = 1
	LevelCoordinator = 2
	LevelManager     = 3
)

// DefaultDuration is the window used for capacity when a request has no end date.
const DefaultDuration = 8 * time.Hour

var (
	// ErrInvalidTransition is returned when a move is not in the table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownType is returned for an assignment type without a table.
	ErrUnknownType = errors.New("unknown assignment type")
)

// TransitionError describes a rejected move and the moves that are allowed.
type TransitionError struct {
	From    string
	To      string
	Allowed []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

var tables = map[string]map[string][]string{
	models.AssignmentEmergency: {
		StatusPendingSupervisor: {StatusApproved, StatusRejected},
		StatusApproved:          {StatusInProgress, StatusCancelled},
		StatusRejected:          {StatusCancelled},
		StatusInProgress:        {StatusCompleted, StatusCancelled},
		StatusCompleted:         {},
		StatusCancelled:         {},
	},
	models.AssignmentStandard: {
		StatusPendingSupervisor:  {StatusPendingCoordinator, StatusRejected},
		StatusPendingCoordinator: {StatusApproved, StatusRejected},
		StatusApproved:           {StatusInProgress, StatusCancelled},
		StatusRejected:           {StatusCancelled},
		StatusInProgress:         {StatusCompleted, StatusCancelled},
		StatusCompleted:          {},
		StatusCancelled:          {},
	},
	models.AssignmentScheduled: {
		StatusPendingSupervisor:  {StatusPendingCoordinator, StatusRejected},
		StatusPendingCoordinator: {StatusPendingManager, StatusRejected},
		StatusPendingManager:     {StatusApproved, StatusRejected},
		StatusApproved:           {StatusScheduled, StatusCancelled},
		StatusScheduled:          {StatusInProgress, StatusCancelled},
		StatusRejected:           {StatusCancelled},
		StatusInProgress:         {StatusCompleted, StatusCancelled},
		StatusCompleted:          {},
		StatusCancelled:          {},
	},
}

// ValidType reports whether t has a transition table.
func ValidType(t string) bool {
	_, ok := tables[t]
	return ok
}

// Allowed lists the statuses reachable from status for type t.
func Allowed(t, status string) []string {
	return slices.Clone(tables[t][status])
}

// CanTransition reports whether from -> to is in the table for t.
func CanTransition(t, from, to string) bool {
	return slices.Contains(tables[t][from], to)
}

// Check returns a *TransitionError when from -> to is not allowed.
func Check(t, from, to string) error {
	if !ValidType(t) {
		return ErrUnknownType
	}
	if !CanTransition(t, from, to) {
		return &TransitionError{From: from, To: to, Allowed: Allowed(t, from)}
	}
	return nil
}

// IsPending reports whether status waits on an approval.
func IsPending(status string) bool {
	return LevelFor(status) > 0
}

// LevelFor returns the approval level that decides status, or 0.
func LevelFor(status string) int {
	switch status {
	case StatusPendingSupervisor:
		return LevelSupervisor
	case StatusPendingCoordinator:
		return LevelCoordinator
	case StatusPendingManager:
		return LevelManager
	}
	return 0
}

// ApproverRole is the role code that holds approvals at level.
func ApproverRole(level int) string {
	switch level {
	case LevelCoordinator:
		return models.RoleCodePC
	case LevelManager:
		return models.RoleCodeCGO
	}
	return models.RoleCodeTCO
}

// NextOnApproval is the status an approval moves status to: the first non-rejected target.
func NextOnApproval(t, status string) (string, error) {
	if !IsPending(status) {
		return "", &TransitionError{From: status, To: StatusApproved, Allowed: Allowed(t, status)}
	}
	for _, s := range tables[t][status] {
		if s != StatusRejected {
			return s, nil
		}
	}
	return "", ErrUnknownType
}

// AllocationPercent is the crew capacity reserved for a request of type t.
func AllocationPercent(t string) int {
	switch t {
	case models.AssignmentEmergency:
		return 50
	case models.AssignmentScheduled:
		return 20
	}
	return 25
}

// Window returns the capacity window of a request.
func Window(start time.Time, end *time.Time) (time.Time, time.Time) {
	if end == nil || !end.After(start) {
		return start, start.Add(DefaultDuration)
	}
	return start, *end
}

// Available is the capacity left once used percent is allocated.
func Available(used int) int {
	return max(0, 100-used)
}

// Validate applies the request rules that need no database access.
func Validate(req *models.AssignmentRequest, now time.Time) error {
	if !ValidType(req.AssignmentType) {
		return fmt.Errorf("assignment_type must be one of emergency, standard, scheduled")
	}
	if req.PriorityLevel < 1 || req.PriorityLevel > 5 {
		return fmt.Errorf("priority_level must be between 1 and 5")
	}
	if req.AssignmentType == models.AssignmentEmergency && req.PriorityLevel > 2 {
		return fmt.Errorf("emergency assignments must have priority level 1 or 2")
	}
	if req.AssignmentType != models.AssignmentEmergency && req.StartDate.Before(now) {
		return fmt.Errorf("start_date cannot be in the past except for emergency assignments")
	}
	if req.EndDate != nil && !req.EndDate.After(req.StartDate) {
		return fmt.Errorf("end_date must be after start_date")
	}
	return nil
}
