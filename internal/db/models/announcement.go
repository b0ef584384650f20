// Package models - announcement.go defines announcements shown to signed-in users, global or
// limited to one construction group and optionally to some roles.
package models

import (
	"time"

	"github.com/lib/pq"
)

// Announcement types.
const (
	AnnouncementInfo    = "INFO"
	AnnouncementWarning = "WARNING"
	AnnouncementUrgent  = "URGENT"
)

// IsValidAnnouncementType reports whether t is a known announcement type.
func IsValidAnnouncementType(t string) bool {
	return oneOf(t, AnnouncementInfo, AnnouncementWarning, AnnouncementUrgent)
}

// Announcement is a banner message. A nil ConstructionGroupID is global and an empty
// TargetRoles reaches every role.
type Announcement struct {
	ID                  string         `db:"id" json:"id"`
	Title               string         `db:"title" json:"title"`
	Message             string         `db:"message" json:"message"`
	Type                string         `db:"type" json:"type"`
	StartDate           *time.Time     `db:"start_date" json:"start_date,omitempty"`
	EndDate             *time.Time     `db:"end_date" json:"end_date,omitempty"`
	ConstructionGroupID *string        `db:"construction_group_id" json:"construction_group_id,omitempty"`
	TargetRoles         pq.StringArray `db:"target_roles" json:"target_roles"`
	IsActive            bool           `db:"is_active" json:"is_active"`
	CreatedBy           *string        `db:"created_by" json:"created_by,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// Targets reports whether the announcement is addressed to role.
func (a *Announcement) Targets(role string) bool {
	if len(a.TargetRoles) == 0 {
		return true
	}
	for _, r := range a.TargetRoles {
		if r == role {
			return true
		}
	}
	return false
}
