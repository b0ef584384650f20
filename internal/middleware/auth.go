// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, maintenance mode, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Security → RateLimit → Auth → Maintenance → RBAC → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the user identity and scopes; RBAC reads from that context.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// Context keys set by AuthMiddleware.
const (
	ctxUser   = "user"
	ctxUserID = "user_id"
	ctxClaims = "claims"
	ctxRole   = "role"
	ctxScopes = "scopes"
)

// UserLoader loads the account behind a session. *repositories.UserRepository satisfies it.
type UserLoader interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// sessionToken returns the JWT from the session cookie or a Bearer header.
func sessionToken(c *gin.Context, cookieName string) string {
	if v, err := c.Cookie(cookieName); err == nil && v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// AuthMiddleware validates the session token and loads the active user. The role and
// construction group are taken from the database row, so a demotion takes effect on the
// next request rather than when the token expires.
func AuthMiddleware(cfg *config.Config, users UserLoader) gin.HandlerFunc {
	cookie := cfg.SessionCookieName()
	return func(c *gin.Context) {
		token := sessionToken(c, cookie)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), claims.UserID)
		if err != nil {
			slog.Error("failed to load session user", "user_id", claims.UserID, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
			return
		}
		if user == nil || !user.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found or inactive"})
			return
		}

		setIdentity(c, user)
		c.Next()
	}
}

func setIdentity(c *gin.Context, user *models.User) {
	c.Set(ctxUser, user)
	c.Set(ctxUserID, user.ID)
	c.Set(ctxClaims, auth.ClaimsForUser(user))
	c.Set(ctxRole, user.Role)
	c.Set(ctxScopes, auth.ScopesForRole(user.Role))
}

// GetUser returns the authenticated user, or nil.
func GetUser(c *gin.Context) *models.User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// GetClaims returns the session claims refreshed from the user row, or nil.
func GetClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(ctxClaims); ok {
		if cl, ok := v.(*auth.Claims); ok {
			return cl
		}
	}
	return nil
}

// GetScopes returns the caller's scopes.
func GetScopes(c *gin.Context) []string {
	if v, ok := c.Get(ctxScopes); ok {
		if s, ok := v.([]string); ok {
			return s
		}
	}
	return nil
}

// CGScope returns the construction group filter for the caller: nil for SUPER_ADMIN,
// otherwise the caller's group. Unauthenticated contexts get a filter that matches nothing.
func CGScope(c *gin.Context) *string {
	if cl := GetClaims(c); cl != nil {
		return cl.CGScope()
	}
	return (&auth.Claims{}).CGScope()
}

// ActorFromContext describes the caller for audit records.
func ActorFromContext(c *gin.Context) audit.Actor {
	a := audit.Actor{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	if u := GetUser(c); u != nil {
		a.UserID = u.ID
		if u.ConstructionGroupID != nil {
			a.ConstructionGroupID = *u.ConstructionGroupID
		}
	}
	return a
}
