// Package auth - scopes.go defines permission scopes, the application role to scope
// mapping, and HasScope, HasAnyScope, and HasAllScopes helpers for scope checking.
package auth

import (
	"fmt"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Directory scopes (volunteers, congregations, projects)
	ScopeVolunteersRead  Scope = "volunteers:read"
	ScopeVolunteersWrite Scope = "volunteers:write"

	// Trade teams, crews and oversight
	ScopeTeamsRead  Scope = "teams:read"
	ScopeTeamsWrite Scope = "teams:write"

	// Role catalog and role assignments
	ScopeRolesRead  Scope = "roles:read"
	ScopeRolesWrite Scope = "roles:write"

	// Assignment workflow
	ScopeAssignmentsRead  Scope = "assignments:read"
	ScopeAssignmentsWrite Scope = "assignments:write"

	// Crew change requests and feedback triage
	ScopeCrewRequestsRead  Scope = "crew_requests:read"
	ScopeCrewRequestsWrite Scope = "crew_requests:write"
	ScopeFeedbackManage    Scope = "feedback:manage"

	// Login user management
	ScopeUsersRead  Scope = "users:read"
	ScopeUsersWrite Scope = "users:write"

	ScopeAuditRead Scope = "audit:read"

	// Admin console: dashboard, health, system info, maintenance
	ScopeAdminRead  Scope = "admin:read"
	ScopeAdminWrite Scope = "admin:write"

	ScopeEmailManage   Scope = "email:manage"
	ScopeBackupsManage Scope = "backups:manage"
	ScopeCacheManage   Scope = "cache:manage"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// readOf maps each write scope to the read scope it implies.
var readOf = map[Scope]Scope{
	ScopeVolunteersWrite:   ScopeVolunteersRead,
	ScopeTeamsWrite:        ScopeTeamsRead,
	ScopeRolesWrite:        ScopeRolesRead,
	ScopeAssignmentsWrite:  ScopeAssignmentsRead,
	ScopeCrewRequestsWrite: ScopeCrewRequestsRead,
	ScopeUsersWrite:        ScopeUsersRead,
	ScopeAdminWrite:        ScopeAdminRead,
}

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeVolunteersRead, ScopeVolunteersWrite,
		ScopeTeamsRead, ScopeTeamsWrite,
		ScopeRolesRead, ScopeRolesWrite,
		ScopeAssignmentsRead, ScopeAssignmentsWrite,
		ScopeCrewRequestsRead, ScopeCrewRequestsWrite, ScopeFeedbackManage,
		ScopeUsersRead, ScopeUsersWrite,
		ScopeAuditRead,
		ScopeAdminRead, ScopeAdminWrite,
		ScopeEmailManage, ScopeBackupsManage, ScopeCacheManage,
		ScopeAdmin,
	}
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	valid := make(map[string]bool)
	for _, s := range AllScopes() {
		valid[string(s)] = true
	}
	for _, s := range scopes {
		if !valid[s] {
			return fmt.Errorf("invalid scope: %s", s)
		}
	}
	return nil
}

var (
	userScopes = []Scope{
		ScopeVolunteersRead, ScopeTeamsRead, ScopeRolesRead, ScopeAssignmentsWrite,
	}
	readOnlyAdminScopes = append(append([]Scope{}, userScopes...),
		ScopeAuditRead, ScopeAdminRead, ScopeUsersRead, ScopeCrewRequestsRead)
	adminScopes = append(append([]Scope{}, readOnlyAdminScopes...),
		ScopeVolunteersWrite, ScopeTeamsWrite, ScopeRolesWrite, ScopeUsersWrite, ScopeAdminWrite,
		ScopeCrewRequestsWrite, ScopeFeedbackManage, ScopeEmailManage, ScopeBackupsManage, ScopeCacheManage)
)

// ScopesForRole returns the scopes granted to an application role. Unknown roles get none.
func ScopesForRole(role string) []string {
	var granted []Scope
	switch role {
	case models.RoleUser:
		granted = userScopes
	case models.RoleReadOnlyAdmin:
		granted = readOnlyAdminScopes
	case models.RoleAdmin:
		granted = adminScopes
	case models.RoleSuperAdmin:
		granted = []Scope{ScopeAdmin}
	}
	out := make([]string, 0, len(granted))
	for _, s := range granted {
		out = append(out, string(s))
	}
	return out
}

// HasScope checks if a user has a required scope.
// The admin wildcard grants everything and a write scope implies its read scope.
func HasScope(userScopes []string, required Scope) bool {
	for _, s := range userScopes {
		scope := Scope(s)
		if scope == required || scope == ScopeAdmin {
			return true
		}
		if read, ok := readOf[scope]; ok && read == required {
			return true
		}
	}
	return false
}

// HasAnyScope checks if a user has at least one of the required scopes
func HasAnyScope(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if HasScope(userScopes, required) {
			return true
		}
	}
	return false
}

// HasAllScopes checks if a user has all of the required scopes
func HasAllScopes(userScopes []string, requiredScopes []Scope) bool {
	for _, required := range requiredScopes {
		if !HasScope(userScopes, required) {
			return false
		}
	}
	return true
}
