package models

import "time"

// Congregation is a local congregation that supplies volunteers
type Congregation struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Number              *string   `db:"number" json:"number,omitempty"`
	City                *string   `db:"city" json:"city,omitempty"`
	State               *string   `db:"state" json:"state,omitempty"`
	CoordinatorName     *string   `db:"coordinator_name" json:"coordinator_name,omitempty"`
	CoordinatorPhone    *string   `db:"coordinator_phone" json:"coordinator_phone,omitempty"`
	CoordinatorEmail    *string   `db:"coordinator_email" json:"coordinator_email,omitempty"`
	ConstructionGroupID *string   `db:"construction_group_id" json:"construction_group_id,omitempty"`
	IsActive            bool      `db:"is_active" json:"is_active"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// Project is a construction project
type Project struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	Number              *string   `db:"number" json:"number,omitempty"`
	ConstructionGroupID *string   `db:"construction_group_id" json:"construction_group_id,omitempty"`
	Status              string    `db:"status" json:"status"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// Contact is one of the three per-congregation contacts for a project.
type Contact struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
	Email *string `json:"email"`
}

// ProjectCongregation links a congregation to a project with its food,
// volunteer and security contacts. The flat columns are exposed as nested
// Contact values by the API layer.
type ProjectCongregation struct {
	ID                    string    `db:"id" json:"id"`
	ProjectID             string    `db:"project_id" json:"project_id"`
	CongregationID        string    `db:"congregation_id" json:"congregation_id"`
	FoodContactName       *string   `db:"food_contact_name" json:"-"`
	FoodContactPhone      *string   `db:"food_contact_phone" json:"-"`
	FoodContactEmail      *string   `db:"food_contact_email" json:"-"`
	VolunteerContactName  *string   `db:"volunteer_contact_name" json:"-"`
	VolunteerContactPhone *string   `db:"volunteer_contact_phone" json:"-"`
	VolunteerContactEmail *string   `db:"volunteer_contact_email" json:"-"`
	SecurityContactName   *string   `db:"security_contact_name" json:"-"`
	SecurityContactPhone  *string   `db:"security_contact_phone" json:"-"`
	SecurityContactEmail  *string   `db:"security_contact_email" json:"-"`
	Notes                 *string   `db:"notes" json:"notes,omitempty"`
	IsActive              bool      `db:"is_active" json:"is_active"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`

	// Joined congregation columns.
	CongregationName   string  `db:"congregation_name" json:"-"`
	CongregationNumber *string `db:"congregation_number" json:"-"`
}

// FoodContact returns the food contact.
func (p *ProjectCongregation) FoodContact() Contact {
	return Contact{Name: p.FoodContactName, Phone: p.FoodContactPhone, Email: p.FoodContactEmail}
}

// VolunteerContact returns the volunteer contact.
func (p *ProjectCongregation) VolunteerContact() Contact {
	return Contact{Name: p.VolunteerContactName, Phone: p.VolunteerContactPhone, Email: p.VolunteerContactEmail}
}

// SecurityContact returns the security contact.
func (p *ProjectCongregation) SecurityContact() Contact {
	return Contact{Name: p.SecurityContactName, Phone: p.SecurityContactPhone, Email: p.SecurityContactEmail}
}
