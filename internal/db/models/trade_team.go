package models

import "time"

// TradeTeam groups crews working a single trade (e.g. Electrical, Site Support)
type TradeTeam struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Description         *string   `db:"description" json:"description,omitempty"`
	Color               *string   `db:"color" json:"color,omitempty"`
	ConstructionGroupID *string   `db:"construction_group_id" json:"construction_group_id,omitempty"`
	IsActive            bool      `db:"is_active" json:"is_active"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`

	CrewCount      int `db:"crew_count" json:"crew_count"`
	VolunteerCount int `db:"volunteer_count" json:"volunteer_count"`
}

// Crew is a working unit within a trade team
type Crew struct {
	ID          string    `db:"id" json:"id"`
	TradeTeamID string    `db:"trade_team_id" json:"trade_team_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	VolunteerCount int `db:"volunteer_count" json:"volunteer_count"`
}

// TradeTeamOverview is one row of the org chart overview.
type TradeTeamOverview struct {
	TradeTeam
	Overseer  *string            `json:"overseer,omitempty"`
	Crews     []CrewOverviewItem `json:"crews"`
	Vacancies int                `json:"vacancies"`
}

// CrewOverviewItem is a crew within TradeTeamOverview.
type CrewOverviewItem struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Overseer       *string `json:"overseer,omitempty"`
	VolunteerCount int     `json:"volunteer_count"`
}

// StandardTradeTeams is the catalog seeded by POST /trade-teams/seed-standard.
var StandardTradeTeams = []struct {
	Name  string
	Color string
	Crews []string
}{
	{"Site Support", "#6b7280", []string{"Site Setup", "Logistics", "Cleaning"}},
	{"Sitework/Civil", "#92400e", []string{"Excavation", "Utilities", "Paving"}},
	{"Structural", "#1d4ed8", []string{"Concrete", "Framing", "Steel"}},
	{"Envelope", "#0f766e", []string{"Roofing", "Siding", "Windows and Doors"}},
	{"Interiors", "#7c3aed", []string{"Drywall", "Painting", "Flooring", "Ceilings"}},
	{"Electrical", "#ca8a04", []string{"Rough-in", "Finish", "Low Voltage"}},
	{"Mechanical", "#dc2626", []string{"HVAC", "Plumbing"}},
}
