// Package middleware (rbac.go) implements scope-based authorization middleware.
//
// Scopes are derived from the user's application role at request time rather than
// embedded in the JWT, so a role change takes effect on the caller's next request.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/auth"
)

func scopesOrAbort(c *gin.Context) ([]string, bool) {
	v, exists := c.Get(ctxScopes)
	if !exists {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
		return nil, false
	}
	s, ok := v.([]string)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid scopes format"})
		return nil, false
	}
	return s, true
}

// RequireScope checks if authenticated user has the required scope
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := scopesOrAbort(c)
		if !ok {
			return
		}
		if !auth.HasScope(userScopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "Missing required scope",
				"details": "Required scope: " + string(scope),
			})
			return
		}
		c.Next()
	}
}

// RequireAnyScope checks if authenticated user has at least one of the required scopes
func RequireAnyScope(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := scopesOrAbort(c)
		if !ok {
			return
		}
		if !auth.HasAnyScope(userScopes, scopes) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Missing required scope"})
			return
		}
		c.Next()
	}
}

// RequireAllScopes checks if authenticated user has all of the required scopes
func RequireAllScopes(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		userScopes, ok := scopesOrAbort(c)
		if !ok {
			return
		}
		if !auth.HasAllScopes(userScopes, scopes) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Missing one or more required scopes"})
			return
		}
		c.Next()
	}
}

// RequireRole restricts a route to the listed application roles, for the few
// operations (audit export, user deletion) that are SUPER_ADMIN only.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		u := GetUser(c)
		if u == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		for _, r := range roles {
			if u.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	}
}
