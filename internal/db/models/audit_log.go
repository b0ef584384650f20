// Package models - audit_log.go defines the AuditLog model for recording security-relevant
// events, capturing actor, action, affected resource, before/after values and client details.
package models

import "time"

// Audit actions.
const (
	ActionCreate         = "CREATE"
	ActionUpdate         = "UPDATE"
	ActionDelete         = "DELETE"
	ActionLogin          = "LOGIN"
	ActionLogout         = "LOGOUT"
	ActionView           = "VIEW"
	ActionExport         = "EXPORT"
	ActionImport         = "IMPORT"
	ActionInvite         = "INVITE"
	ActionActivate       = "ACTIVATE"
	ActionDeactivate     = "DEACTIVATE"
	ActionPasswordChange = "PASSWORD_CHANGE"
	ActionRoleChange     = "ROLE_CHANGE"
	ActionConfigChange   = "CONFIG_CHANGE"
)

// Audit resources.
const (
	ResourceUser              = "USER"
	ResourceVolunteer         = "VOLUNTEER"
	ResourceCongregation      = "CONGREGATION"
	ResourceProject           = "PROJECT"
	ResourceTradeTeam         = "TRADE_TEAM"
	ResourceCrew              = "CREW"
	ResourceRole              = "ROLE"
	ResourceRoleAssignment    = "ROLE_ASSIGNMENT"
	ResourceAssignment        = "ASSIGNMENT"
	ResourceConstructionGroup = "CONSTRUCTION_GROUP"
	ResourceEmailConfig       = "EMAIL_CONFIG"
	ResourceBackup            = "BACKUP"
	ResourceSystem            = "SYSTEM"
	ResourceSession           = "SESSION"
	ResourceAuditLog          = "AUDIT_LOG"
	ResourceCrewRequest       = "CREW_REQUEST"
	ResourceFeedback          = "FEEDBACK"
	ResourceAnnouncement      = "ANNOUNCEMENT"
)

// AuditLog represents an audit log entry for tracking user actions
type AuditLog struct {
	ID                  string    `db:"id" json:"id"`
	UserID              *string   `db:"user_id" json:"user_id,omitempty"` // nil for system actions
	Action              string    `db:"action" json:"action"`
	Resource            string    `db:"resource" json:"resource"`
	ResourceID          *string   `db:"resource_id" json:"resource_id,omitempty"`
	ConstructionGroupID *string   `db:"construction_group_id" json:"construction_group_id,omitempty"`
	OldValues           JSON      `db:"old_values" json:"old_values,omitempty"`
	NewValues           JSON      `db:"new_values" json:"new_values,omitempty"`
	Metadata            JSON      `db:"metadata" json:"metadata,omitempty"`
	IPAddress           *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent           *string   `db:"user_agent" json:"user_agent,omitempty"`
	Timestamp           time.Time `db:"timestamp" json:"timestamp"`
}

// AuditLogView is an audit row joined with the acting user for listing and export.
type AuditLogView struct {
	AuditLog
	UserName  *string `db:"user_name" json:"-"`
	UserEmail *string `db:"user_email" json:"user_email,omitempty"`
	UserRole  *string `db:"user_role" json:"user_role,omitempty"`
	CGName    *string `db:"construction_group_name" json:"construction_group_name,omitempty"`
}

// DisplayUser returns the user's name, then email, then "System".
func (v *AuditLogView) DisplayUser() string {
	if v.UserName != nil && *v.UserName != "" {
		return *v.UserName
	}
	if v.UserEmail != nil && *v.UserEmail != "" {
		return *v.UserEmail
	}
	return "System"
}

// AuditStats summarises the audit log.
type AuditStats struct {
	Total      int            `json:"total"`
	Last24h    int            `json:"last_24h"`
	ByAction   map[string]int `json:"by_action"`
	ByResource map[string]int `json:"by_resource"`
}
