// Package models - crew_request.go defines crew change requests: asks from crew overseers
// that the personnel team add or remove a volunteer, worked through to completion.
package models

import "time"

// Crew change request types.
const (
	CrewRequestAddToCrew          = "ADD_TO_CREW"
	CrewRequestRemoveFromCrew     = "REMOVE_FROM_CREW"
	CrewRequestAddToProjectRoster = "ADD_TO_PROJECT_ROSTER"
)

// Crew change request statuses.
const (
	CrewRequestNew        = "NEW"
	CrewRequestInProgress = "IN_PROGRESS"
	CrewRequestCompleted  = "COMPLETED"
	CrewRequestCancelled  = "CANCELLED"
)

// CrewRequestTypeLabels are the human readable request types used in notifications.
var CrewRequestTypeLabels = map[string]string{
	CrewRequestAddToCrew:          "Add Volunteer to Crew",
	CrewRequestRemoveFromCrew:     "Remove Volunteer from Crew",
	CrewRequestAddToProjectRoster: "Add Volunteer to Project Roster",
}

// IsValidCrewRequestType reports whether t is a known request type.
func IsValidCrewRequestType(t string) bool {
	_, ok := CrewRequestTypeLabels[t]
	return ok
}

// IsValidCrewRequestStatus reports whether s is a known status.
func IsValidCrewRequestStatus(s string) bool {
	switch s {
	case CrewRequestNew, CrewRequestInProgress, CrewRequestCompleted, CrewRequestCancelled:
		return true
	}
	return false
}

// CrewChangeRequest is a request to the personnel team to change a crew or project roster.
type CrewChangeRequest struct {
	ID                  string     `db:"id" json:"id"`
	ConstructionGroupID string     `db:"construction_group_id" json:"construction_group_id"`
	RequestType         string     `db:"request_type" json:"request_type"`
	RequestorName       string     `db:"requestor_name" json:"requestor_name"`
	RequestorEmail      string     `db:"requestor_email" json:"requestor_email"`
	VolunteerName       string     `db:"volunteer_name" json:"volunteer_name"`
	VolunteerBAID       *string    `db:"volunteer_ba_id" json:"volunteer_ba_id,omitempty"`
	TradeTeamID         *string    `db:"trade_team_id" json:"trade_team_id,omitempty"`
	CrewID              *string    `db:"crew_id" json:"crew_id,omitempty"`
	CrewName            *string    `db:"crew_name" json:"crew_name,omitempty"`
	ProjectID           *string    `db:"project_id" json:"project_id,omitempty"`
	ProjectRosterName   *string    `db:"project_roster_name" json:"project_roster_name,omitempty"`
	Comments            *string    `db:"comments" json:"comments,omitempty"`
	Status              string     `db:"status" json:"status"`
	AssignedToID        *string    `db:"assigned_to_id" json:"-"`
	ResolutionNotes     *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	CompletedAt         *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CompletedByID       *string    `db:"completed_by_id" json:"-"`
	SubmittedByID       *string    `db:"submitted_by_id" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`

	// joined
	AssignedToName  *string `db:"assigned_to_name" json:"-"`
	AssignedToEmail *string `db:"assigned_to_email" json:"-"`
	CompletedByName *string `db:"completed_by_name" json:"-"`

	AssignedTo  *UserRef `db:"-" json:"assigned_to"`
	CompletedBy *UserRef `db:"-" json:"completed_by"`
}

// UserRef is the short form of a login user embedded in other records.
type UserRef struct {
	ID    string  `json:"id"`
	Name  *string `json:"name"`
	Email *string `json:"email,omitempty"`
}

// Resolve fills AssignedTo and CompletedBy from the joined columns.
func (r *CrewChangeRequest) Resolve() {
	r.AssignedTo, r.CompletedBy = nil, nil
	if r.AssignedToID != nil {
		r.AssignedTo = &UserRef{ID: *r.AssignedToID, Name: r.AssignedToName, Email: r.AssignedToEmail}
	}
	if r.CompletedByID != nil {
		r.CompletedBy = &UserRef{ID: *r.CompletedByID, Name: r.CompletedByName}
	}
}
