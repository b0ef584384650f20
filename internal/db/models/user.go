// Package models - user.go defines the User model for login accounts, including the
// application role and the organizational claims carried in the session token.
package models

import "time"

// Application roles, ordered from least to most privileged.
const (
	RoleUser          = "USER"
	RoleReadOnlyAdmin = "READ_ONLY_ADMIN"
	RoleAdmin         = "ADMIN"
	RoleSuperAdmin    = "SUPER_ADMIN"
)

// ValidUserRoles lists the roles accepted by the users table check constraint.
var ValidUserRoles = []string{RoleUser, RoleReadOnlyAdmin, RoleAdmin, RoleSuperAdmin}

// User represents a login account
type User struct {
	ID                  string     `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	Name                *string    `db:"name" json:"name"`
	PasswordHash        *string    `db:"password_hash" json:"-"`
	Role                string     `db:"role" json:"role"`
	AdminLevel          *string    `db:"admin_level" json:"admin_level,omitempty"`
	RegionID            *string    `db:"region_id" json:"region_id,omitempty"`
	ZoneID              *string    `db:"zone_id" json:"zone_id,omitempty"`
	ConstructionGroupID *string    `db:"construction_group_id" json:"construction_group_id,omitempty"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayName returns the name, falling back to the email address.
func (u *User) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}

// IsAdmin reports whether the user holds any administrative role.
func (u *User) IsAdmin() bool {
	switch u.Role {
	case RoleAdmin, RoleSuperAdmin, RoleReadOnlyAdmin:
		return true
	}
	return false
}

// IsValidUserRole reports whether role is one of ValidUserRoles.
func IsValidUserRole(role string) bool {
	for _, r := range ValidUserRoles {
		if r == role {
			return true
		}
	}
	return false
}

// UserStats summarises the users table for the admin dashboard.
type UserStats struct {
	Total          int            `json:"total"`
	Active         int            `json:"active"`
	Inactive       int            `json:"inactive"`
	ByRole         map[string]int `json:"by_role"`
	RecentLogins7d int            `json:"recent_logins_7d"`
}
