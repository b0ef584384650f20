package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Volunteer is a directory record for a person serving in a construction group.
// A volunteer may be linked to a login user.
type Volunteer struct {
	ID                  string         `db:"id" json:"id"`
	FirstName           string         `db:"first_name" json:"first_name"`
	LastName            string         `db:"last_name" json:"last_name"`
	BAID                *string        `db:"ba_id" json:"ba_id,omitempty"`
	EmailPersonal       *string        `db:"email_personal" json:"email_personal,omitempty"`
	EmailJW             *string        `db:"email_jw" json:"email_jw,omitempty"`
	Phone               *string        `db:"phone" json:"phone,omitempty"`
	Congregation        *string        `db:"congregation" json:"congregation,omitempty"`
	CongregationID      *string        `db:"congregation_id" json:"congregation_id,omitempty"`
	ServingAs           pq.StringArray `db:"serving_as" json:"serving_as"`
	Notes               *string        `db:"notes" json:"notes,omitempty"`
	TradeTeamID         *string        `db:"trade_team_id" json:"trade_team_id,omitempty"`
	CrewID              *string        `db:"crew_id" json:"crew_id,omitempty"`
	ConstructionGroupID *string        `db:"construction_group_id" json:"construction_group_id,omitempty"`
	UserID              *string        `db:"user_id" json:"user_id,omitempty"`
	IsActive            bool           `db:"is_active" json:"is_active"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`

	// Populated by list queries.
	TradeTeamName *string `db:"trade_team_name" json:"trade_team_name,omitempty"`
	CrewName      *string `db:"crew_name" json:"crew_name,omitempty"`
}

// FullName joins first and last name.
func (v *Volunteer) FullName() string {
	return strings.TrimSpace(v.FirstName + " " + v.LastName)
}

// PrimaryEmail prefers the JW address over the personal one.
func (v *Volunteer) PrimaryEmail() string {
	if v.EmailJW != nil && *v.EmailJW != "" {
		return *v.EmailJW
	}
	if v.EmailPersonal != nil {
		return *v.EmailPersonal
	}
	return ""
}

// VolunteerStats summarises the directory for a construction group.
type VolunteerStats struct {
	Total          int            `json:"total"`
	Active         int            `json:"active"`
	Inactive       int            `json:"inactive"`
	ByTradeTeam    map[string]int `json:"by_trade_team"`
	ByCongregation map[string]int `json:"by_congregation"`
	Unassigned     int            `json:"unassigned"`
}
