// Package models - assignment.go defines assignment requests and the records the approval
// workflow keeps for them: approvals, state changes, history and crew capacity reservations.
package models

import "time"

// Assignment types.
const (
	AssignmentEmergency = "emergency"
	AssignmentStandard  = "standard"
	AssignmentScheduled = "scheduled"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// AssignmentRequest asks for a volunteer to be placed on a crew or team for a period.
type AssignmentRequest struct {
	ID                   string     `db:"id" json:"id"`
	RequesterID          string     `db:"requester_id" json:"requester_id"`
	VolunteerID          *string    `db:"volunteer_id" json:"volunteer_id,omitempty"`
	AssignmentType       string     `db:"assignment_type" json:"assignment_type"`
	PriorityLevel        int        `db:"priority_level" json:"priority_level"`
	RequestedRole        *string    `db:"requested_role" json:"requested_role,omitempty"`
	ProjectID            *string    `db:"project_id" json:"project_id,omitempty"`
	TradeTeamID          *string    `db:"trade_team_id" json:"trade_team_id,omitempty"`
	CrewID               *string    `db:"crew_id" json:"crew_id,omitempty"`
	ConstructionGroupID  *string    `db:"construction_group_id" json:"construction_group_id,omitempty"`
	StartDate            time.Time  `db:"start_date" json:"start_date"`
	EndDate              *time.Time `db:"end_date" json:"end_date,omitempty"`
	Description          *string    `db:"description" json:"description,omitempty"`
	Requirements         JSON       `db:"requirements" json:"requirements,omitempty"`
	Status               string     `db:"status" json:"status"`
	CurrentApprovalLevel int        `db:"current_approval_level" json:"current_approval_level"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// AssignmentApproval is one approval step.
type AssignmentApproval struct {
	ID                  string     `db:"id" json:"id"`
	AssignmentID        string     `db:"assignment_id" json:"assignment_id"`
	ApprovalLevel       int        `db:"approval_level" json:"approval_level"`
	ApproverVolunteerID *string    `db:"approver_volunteer_id" json:"approver_volunteer_id,omitempty"`
	ApproverRole        string     `db:"approver_role" json:"approver_role"`
	Status              string     `db:"status" json:"status"`
	Comments            *string    `db:"comments" json:"comments,omitempty"`
	DecidedBy           *string    `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt           *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// WorkflowState records a single status change.
type WorkflowState struct {
	ID           string    `db:"id" json:"id"`
	AssignmentID string    `db:"assignment_id" json:"assignment_id"`
	FromState    *string   `db:"from_state" json:"from_state,omitempty"`
	ToState      string    `db:"to_state" json:"to_state"`
	ActorID      *string   `db:"actor_id" json:"actor_id,omitempty"`
	Reason       *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AssignmentHistory is a free-form history entry.
type AssignmentHistory struct {
	ID           string    `db:"id" json:"id"`
	AssignmentID string    `db:"assignment_id" json:"assignment_id"`
	Action       string    `db:"action" json:"action"`
	Details      JSON      `db:"details" json:"details,omitempty"`
	ActorID      *string   `db:"actor_id" json:"actor_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CapacityAllocation reserves a share of a crew's capacity for a period.
type CapacityAllocation struct {
	ID                   string    `db:"id" json:"id"`
	CrewID               string    `db:"crew_id" json:"crew_id"`
	AssignmentID         string    `db:"assignment_id" json:"assignment_id"`
	AllocationPercentage int       `db:"allocation_percentage" json:"allocation_percentage"`
	StartDate            time.Time `db:"start_date" json:"start_date"`
	EndDate              time.Time `db:"end_date" json:"end_date"`
	IsConfirmed          bool      `db:"is_confirmed" json:"is_confirmed"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// AssignmentDetail bundles a request with its workflow records.
type AssignmentDetail struct {
	AssignmentRequest
	Approvals []AssignmentApproval `json:"approvals"`
	States    []WorkflowState      `json:"states"`
	History   []AssignmentHistory  `json:"history"`
}

// AssignmentStats summarises requests by status and type.
type AssignmentStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
}
