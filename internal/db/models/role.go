// Package models - role.go defines the organizational role catalog and the assignments that
// attach roles to volunteers, including trade team and crew oversight positions.
package models

import "time"

// Role categories.
const (
	CategoryCGOversight           = "CG_OVERSIGHT"
	CategoryCGStaff               = "CG_STAFF"
	CategoryRegionSupportServices = "REGION_SUPPORT_SERVICES"
	CategoryTradeTeam             = "TRADE_TEAM"
	CategoryTradeCrew             = "TRADE_CREW"
)

// RoleCategories lists all categories in display order.
var RoleCategories = []string{
	CategoryCGOversight,
	CategoryCGStaff,
	CategoryRegionSupportServices,
	CategoryTradeTeam,
	CategoryTradeCrew,
}

// Entity types an assignment can be scoped to.
const (
	EntityTradeTeam = "TRADE_TEAM"
	EntityCrew      = "CREW"
)

// Role codes referenced by the workflow and oversight code paths.
const (
	RoleCodeCGO       = "CGO"
	RoleCodePC        = "PC"
	RoleCodePCA       = "PCA"
	RoleCodePCSupport = "PC-Support"
	RoleCodeTTO       = "TTO"
	RoleCodeTTOA      = "TTOA"
	RoleCodeTTSupport = "TT_SUPPORT"
	RoleCodeTCO       = "TCO"
	RoleCodeTCOA      = "TCOA"
	RoleCodeTCSupport = "TC_SUPPORT"
	RoleCodeTCV       = "TCV"
)

// PersonnelRoleCodes are the roles that work crew change requests.
var PersonnelRoleCodes = []string{RoleCodePC, RoleCodePCA, RoleCodePCSupport}

// Role is an entry in the organizational role catalog
type Role struct {
	ID          string    `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Category    string    `db:"category" json:"category"`
	Level       int       `db:"level" json:"level"`
	Permissions JSON      `db:"permissions" json:"permissions"`
	Description *string   `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// RoleAssignment attaches a role to a volunteer. EntityType/EntityID are set
// for trade team and crew oversight positions.
type RoleAssignment struct {
	ID                   string     `db:"id" json:"id"`
	VolunteerID          string     `db:"volunteer_id" json:"volunteer_id"`
	RoleID               string     `db:"role_id" json:"role_id"`
	AssignmentType       string     `db:"assignment_type" json:"assignment_type"`
	Scope                string     `db:"scope" json:"scope"`
	EntityType           *string    `db:"entity_type" json:"entity_type,omitempty"`
	EntityID             *string    `db:"entity_id" json:"entity_id,omitempty"`
	IsPrimary            bool       `db:"is_primary" json:"is_primary"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	StartDate            time.Time  `db:"start_date" json:"start_date"`
	EndDate              *time.Time `db:"end_date" json:"end_date,omitempty"`
	AssignedBy           *string    `db:"assigned_by" json:"assigned_by,omitempty"`
	ConsultationRequired bool       `db:"consultation_required" json:"consultation_required"`
	ConsultationStatus   *string    `db:"consultation_status" json:"consultation_status,omitempty"`
	Notes                *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`

	// Joined columns from roles and volunteers.
	RoleCode           string `db:"role_code" json:"role_code"`
	RoleName           string `db:"role_name" json:"role_name"`
	RoleCategory       string `db:"role_category" json:"role_category"`
	VolunteerFirstName string `db:"volunteer_first_name" json:"volunteer_first_name"`
	VolunteerLastName  string `db:"volunteer_last_name" json:"volunteer_last_name"`
}

// IsExpired reports whether the end date has passed.
func (a *RoleAssignment) IsExpired(now time.Time) bool {
	return a.EndDate != nil && a.EndDate.Before(now)
}

// RoleChangeLog is an append-only record of assignment changes.
type RoleChangeLog struct {
	ID               string    `db:"id" json:"id"`
	RoleAssignmentID *string   `db:"role_assignment_id" json:"role_assignment_id,omitempty"`
	VolunteerID      *string   `db:"volunteer_id" json:"volunteer_id,omitempty"`
	RoleID           *string   `db:"role_id" json:"role_id,omitempty"`
	Action           string    `db:"action" json:"action"`
	OldData          JSON      `db:"old_data" json:"old_data,omitempty"`
	NewData          JSON      `db:"new_data" json:"new_data,omitempty"`
	Reason           *string   `db:"reason" json:"reason,omitempty"`
	PerformedBy      *string   `db:"performed_by" json:"performed_by,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Role change log actions.
const (
	ChangeAssigned       = "assigned"
	ChangeUpdated        = "updated"
	ChangeRemoved        = "removed"
	ChangeDeactivated    = "deactivated"
	ChangePrimarySwapped = "primary_swapped"
	ChangeExpired        = "expired"
)

// OversightLimit describes how many active holders a position allows. Max 0 means unlimited.
type OversightLimit struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Max   int    `json:"max"`
}

// TradeTeamOversight is the position catalog for trade teams.
var TradeTeamOversight = []OversightLimit{
	{RoleCodeTTO, "Trade Team Overseer", 1},
	{RoleCodeTTOA, "Trade Team Overseer Assistant", 2},
	{RoleCodeTTSupport, "Trade Team Support", 0},
}

// CrewOversight is the position catalog for crews.
var CrewOversight = []OversightLimit{
	{RoleCodeTCO, "Trade Crew Overseer", 1},
	{RoleCodeTCOA, "Trade Crew Overseer Assistant", 3},
	{RoleCodeTCSupport, "Trade Crew Support", 0},
}

// OversightCatalog returns the position catalog for an entity type.
func OversightCatalog(entityType string) []OversightLimit {
	if entityType == EntityCrew {
		return CrewOversight
	}
	return TradeTeamOversight
}

// FindOversightLimit looks up code in the catalog for entityType.
func FindOversightLimit(entityType, code string) (OversightLimit, bool) {
	for _, l := range OversightCatalog(entityType) {
		if l.Code == code {
			return l, true
		}
	}
	return OversightLimit{}, false
}

// RoleAssignmentStats summarises assignments.
type RoleAssignmentStats struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	Primary    int            `json:"primary"`
	ByCategory map[string]int `json:"by_category"`
	ByRole     map[string]int `json:"by_role"`
	ByType     map[string]int `json:"by_type"`
}
