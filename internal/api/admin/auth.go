// auth.go implements the credential login, logout, session and password change handlers.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
)

// AuthHandlers handles authentication-related endpoints
type AuthHandlers struct {
	cfg        *config.Config
	users      *repositories.UserRepository
	volunteers *repositories.VolunteerRepository
	rec        *audit.Recorder
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(cfg *config.Config, db *sqlx.DB, rec *audit.Recorder) *AuthHandlers {
	return &AuthHandlers{
		cfg:        cfg,
		users:      repositories.NewUserRepository(db),
		volunteers: repositories.NewVolunteerRepository(db),
		rec:        rec,
	}
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the body of POST /auth/change-password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *AuthHandlers) sessionTTL() time.Duration {
	if h.cfg.Security.SessionTTL > 0 {
		return h.cfg.Security.SessionTTL
	}
	return auth.DefaultSessionTTL
}

func (h *AuthHandlers) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.SessionCookieName(), token, maxAge, "/", "", h.cfg.Security.TLS.Enabled, true)
}

// authenticate checks credentials. Unknown users, wrong passwords and inactive accounts
// all yield auth.ErrInvalidCredentials.
func (h *AuthHandlers) authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := h.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive || user.PasswordHash == nil {
		return nil, auth.ErrInvalidCredentials
	}
	if !auth.CheckPassword(*user.PasswordHash, password) {
		return nil, auth.ErrInvalidCredentials
	}
	return user, nil
}

func sessionActor(c *gin.Context, u *models.User) audit.Actor {
	a := audit.Actor{UserID: u.ID, IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
	if u.ConstructionGroupID != nil {
		a.ConstructionGroupID = *u.ConstructionGroupID
	}
	return a
}

// @Summary      Log in
// @Description  Checks email and password and sets the session cookie.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  LoginRequest  true  "Credentials"
// @Success      200  {object}  map[string]interface{}  "user, expires_at"
// @Failure      400  {object}  map[string]interface{}  "Email and password are required"
// @Failure      401  {object}  map[string]interface{}  "Invalid email or password"
// @Router       /api/v1/auth/login [post]
// LoginHandler authenticates with email and password
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		email := strings.TrimSpace(req.Email)
		if email == "" || req.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
			return
		}

		ctx := c.Request.Context()
		user, err := h.authenticate(ctx, email, req.Password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			slog.Info("login rejected", "ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		if err != nil {
			respondError(c, err, "Failed to log in")
			return
		}

		ttl := h.sessionTTL()
		token, err := auth.GenerateJWT(user, ttl)
		if err != nil {
			respondError(c, err, "Failed to create session")
			return
		}
		if err := h.users.RecordLogin(ctx, user.ID); err != nil {
			slog.Warn("failed to record login time", "user_id", user.ID, "error", err)
		}

		h.setSessionCookie(c, token, int(ttl.Seconds()))
		h.rec.Record(ctx, sessionActor(c, user), audit.Event{
			Action:     models.ActionLogin,
			Resource:   models.ResourceSession,
			ResourceID: user.ID,
		})

		c.JSON(http.StatusOK, gin.H{
			"user":       user,
			"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Log out
// @Description  Clears the session cookie. Always succeeds.
// @Tags         Authentication
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "message"
// @Router       /api/v1/auth/logout [post]
// LogoutHandler clears the session cookie
// POST /api/v1/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(h.cfg.SessionCookieName())
		if token == "" {
			token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if token != "" {
			if claims, err := auth.ValidateJWT(token); err == nil {
				actor := audit.Actor{
					UserID:              claims.UserID,
					ConstructionGroupID: claims.ConstructionGroupID,
					IPAddress:           c.ClientIP(),
					UserAgent:           c.Request.UserAgent(),
				}
				h.rec.Record(c.Request.Context(), actor, audit.Event{
					Action:     models.ActionLogout,
					Resource:   models.ResourceSession,
					ResourceID: claims.UserID,
				})
			}
		}
		h.setSessionCookie(c, "", -1)
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// @Summary      Current session
// @Tags         Authentication
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "user, scopes, volunteer"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/auth/me [get]
// MeHandler returns the session user, their scopes and the linked volunteer if any
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		vol, err := h.volunteers.GetVolunteerByUserID(c.Request.Context(), user.ID)
		if err != nil {
			respondError(c, err, "Failed to load session")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":      user,
			"scopes":    middleware.GetScopes(c),
			"volunteer": vol,
		})
	}
}

// @Summary      Change password
// @Tags         Authentication
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ChangePasswordRequest  true  "Current and new password"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      401  {object}  map[string]interface{}  "Current password is incorrect"
// @Router       /api/v1/auth/change-password [post]
// ChangePasswordHandler replaces the caller's password
// POST /api/v1/auth/change-password
func (h *AuthHandlers) ChangePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		var req ChangePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if user.PasswordHash == nil || !auth.CheckPassword(*user.PasswordHash, req.CurrentPassword) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
			return
		}
		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := h.users.SetPassword(c.Request.Context(), user.ID, hash); err != nil {
			respondError(c, err, "Failed to change password")
			return
		}
		h.rec.Record(c.Request.Context(), middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionPasswordChange,
			Resource:   models.ResourceUser,
			ResourceID: user.ID,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
	}
}
