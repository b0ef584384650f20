// account.go implements the token-based account flows: accepting an invitation and the
// self-service password reset. Tokens are single use and stored only as a SHA-256 hash.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/config"
	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// Default token lifetimes when none are configured.
const (
	defaultInviteTTL = 7 * 24 * time.Hour
	defaultResetTTL  = time.Hour
)

const forgotPasswordReply = "If an account exists for this email, a reset link has been sent"

// AccountHandlers handles invitation acceptance and password reset by token
type AccountHandlers struct {
	cfg    *config.Config
	db     *sqlx.DB
	users  *repositories.UserRepository
	tokens *repositories.AccountTokenRepository
	mail   *email.Service
	rec    *audit.Recorder
	now    func() time.Time
}

// NewAccountHandlers creates a new AccountHandlers instance. mail may be nil.
func NewAccountHandlers(cfg *config.Config, db *sqlx.DB, mail *email.Service, rec *audit.Recorder) *AccountHandlers {
	return &AccountHandlers{
		cfg:    cfg,
		db:     db,
		users:  repositories.NewUserRepository(db),
		tokens: repositories.NewAccountTokenRepository(db),
		mail:   mail,
		rec:    rec,
		now:    time.Now,
	}
}

// TokenPasswordRequest is the body of accept-invite and reset-password
type TokenPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ForgotPasswordRequest is the body of POST /auth/forgot-password
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func inviteTTL(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Security.InviteTTL > 0 {
		return cfg.Security.InviteTTL
	}
	return defaultInviteTTL
}

func resetTTL(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Security.ResetTTL > 0 {
		return cfg.Security.ResetTTL
	}
	return defaultResetTTL
}

// accountLink builds the frontend link that carries token.
func accountLink(cfg *config.Config, path, token string) string {
	base := ""
	if cfg != nil {
		base = strings.TrimRight(cfg.Server.BaseURL, "/")
	}
	return base + path + "?token=" + url.QueryEscape(token)
}

// issueToken stores a new token of purpose for userID and returns the plain token.
func issueToken(ctx context.Context, repo *repositories.AccountTokenRepository, userID, purpose string, ttl time.Duration, now time.Time) (string, error) {
	token, hash, err := auth.GenerateAccountToken()
	if err != nil {
		return "", err
	}
	err = repo.IssueToken(ctx, &models.AccountToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
	})
	return token, err
}

// tokenProblem describes why a token cannot be used.
type tokenProblem struct {
	status  int
	message string
}

// resolve looks up an unused token of purpose and its user. Invitations also require a
// user that has not yet set a password.
func (h *AccountHandlers) resolve(ctx context.Context, token, purpose string) (*models.AccountToken, *models.User, *tokenProblem, error) {
	invalid := &tokenProblem{http.StatusNotFound, "Invalid or expired reset link"}
	expired := &tokenProblem{http.StatusGone, "Reset link has expired. Please request a new one."}
	if purpose == models.TokenInvite {
		invalid = &tokenProblem{http.StatusNotFound, "Invalid or expired invitation token"}
		expired = &tokenProblem{http.StatusGone, "Invitation has expired. Ask an administrator for a new one."}
	}

	tok, err := h.tokens.FindUnused(ctx, auth.HashAccountToken(token), purpose)
	if err != nil {
		return nil, nil, nil, err
	}
	if tok == nil {
		return nil, nil, invalid, nil
	}
	if tok.Expired(h.now()) {
		return nil, nil, expired, nil
	}
	user, err := h.users.GetUserByID(ctx, tok.UserID)
	if err != nil {
		return nil, nil, nil, err
	}
	if user == nil || !user.IsActive {
		return nil, nil, invalid, nil
	}
	if purpose == models.TokenInvite && user.PasswordHash != nil {
		return nil, nil, &tokenProblem{http.StatusNotFound, "Invalid invitation"}, nil
	}
	return tok, user, nil, nil
}

func (h *AccountHandlers) verify(c *gin.Context, purpose string, ok func(u *models.User) gin.H) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "Token is required"})
		return
	}
	_, user, problem, err := h.resolve(c.Request.Context(), token, purpose)
	if err != nil {
		respondError(c, err, "Failed to verify token")
		return
	}
	if problem != nil {
		c.JSON(problem.status, gin.H{"valid": false, "error": problem.message})
		return
	}
	c.JSON(http.StatusOK, ok(user))
}

// setPassword consumes the token and sets the password in one transaction.
func (h *AccountHandlers) setPassword(c *gin.Context, purpose string, action, done string) {
	var req TokenPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token and password are required"})
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tok, user, problem, err := h.resolve(ctx, req.Token, purpose)
	if err != nil {
		respondError(c, err, "Failed to set password")
		return
	}
	if problem != nil {
		c.JSON(problem.status, gin.H{"error": problem.message})
		return
	}

	used := false
	err = pgdb.WithTx(ctx, h.db, func(tx *sqlx.Tx) error {
		ok, err := h.tokens.Consume(ctx, tx, tok.ID)
		if err != nil || !ok {
			return err
		}
		used = true
		return h.users.SetPasswordIn(ctx, tx, user.ID, hash)
	})
	if err != nil {
		respondError(c, err, "Failed to set password")
		return
	}
	if !used {
		c.JSON(http.StatusNotFound, gin.H{"error": "Token has already been used"})
		return
	}

	h.rec.Record(ctx, sessionActor(c, user), audit.Event{
		Action:     action,
		Resource:   models.ResourceUser,
		ResourceID: user.ID,
		Metadata:   map[string]interface{}{"via": strings.ToLower(purpose)},
	})
	c.JSON(http.StatusOK, gin.H{"message": done})
}

// @Summary      Verify invitation
// @Tags         Authentication
// @Produce      json
// @Param        token  query  string  true  "Invitation token"
// @Success      200  {object}  map[string]interface{}  "valid, user"
// @Failure      404  {object}  map[string]interface{}  "Invalid or expired invitation token"
// @Failure      410  {object}  map[string]interface{}  "Invitation has expired"
// @Router       /api/v1/auth/verify-invite [get]
// VerifyInviteHandler checks an invitation token before the user chooses a password
// GET /api/v1/auth/verify-invite
func (h *AccountHandlers) VerifyInviteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.verify(c, models.TokenInvite, func(u *models.User) gin.H {
			return gin.H{"valid": true, "user": gin.H{"name": u.DisplayName(), "email": u.Email, "role": u.Role}}
		})
	}
}

// @Summary      Accept invitation
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  TokenPasswordRequest  true  "Token and new password"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      404  {object}  map[string]interface{}  "Invalid or expired invitation token"
// @Router       /api/v1/auth/accept-invite [post]
// AcceptInviteHandler sets the first password of an invited user
// POST /api/v1/auth/accept-invite
func (h *AccountHandlers) AcceptInviteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.setPassword(c, models.TokenInvite, models.ActionActivate, "Account setup completed successfully")
	}
}

// @Summary      Request password reset
// @Description  Always answers 200 so the response does not reveal whether an account exists.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  ForgotPasswordRequest  true  "Email"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid email"
// @Router       /api/v1/auth/forgot-password [post]
// ForgotPasswordHandler emails a reset link to an active account
// POST /api/v1/auth/forgot-password
func (h *AccountHandlers) ForgotPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ForgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := validation.Email(req.Email); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		reply := func() { c.JSON(http.StatusOK, gin.H{"message": forgotPasswordReply}) }

		user, err := h.users.GetUserByEmail(ctx, validation.NormalizeEmail(req.Email))
		if err != nil {
			slog.Error("failed to look up user for password reset", "error", err)
			reply()
			return
		}
		if user == nil || !user.IsActive || h.mail == nil || !h.mail.Configured(ctx) {
			reply()
			return
		}

		ttl := resetTTL(h.cfg)
		token, err := issueToken(ctx, h.tokens, user.ID, models.TokenPasswordReset, ttl, h.now())
		if err != nil {
			slog.Error("failed to issue password reset token", "user_id", user.ID, "error", err)
			reply()
			return
		}
		link := accountLink(h.cfg, "/reset-password", token)
		if err := h.mail.SendResetLink(ctx, user.Email, user.DisplayName(), link, ttl); err != nil {
			slog.Warn("failed to send password reset link", "user_id", user.ID, "error", email.ClassifyError(err))
		}
		reply()
	}
}

// @Summary      Verify reset token
// @Tags         Authentication
// @Produce      json
// @Param        token  query  string  true  "Reset token"
// @Success      200  {object}  map[string]interface{}  "valid, email"
// @Failure      404  {object}  map[string]interface{}  "Invalid or expired reset link"
// @Failure      410  {object}  map[string]interface{}  "Reset link has expired"
// @Router       /api/v1/auth/verify-reset-token [get]
// VerifyResetTokenHandler checks a reset token before the user chooses a password
// GET /api/v1/auth/verify-reset-token
func (h *AccountHandlers) VerifyResetTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.verify(c, models.TokenPasswordReset, func(u *models.User) gin.H {
			return gin.H{"valid": true, "email": u.Email}
		})
	}
}

// @Summary      Reset password with token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  TokenPasswordRequest  true  "Token and new password"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      404  {object}  map[string]interface{}  "Invalid or expired reset link"
// @Failure      410  {object}  map[string]interface{}  "Reset link has expired"
// @Router       /api/v1/auth/reset-password [post]
// ResetPasswordHandler replaces the password of the token's user
// POST /api/v1/auth/reset-password
func (h *AccountHandlers) ResetPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.setPassword(c, models.TokenPasswordReset, models.ActionPasswordChange, "Password reset successfully")
	}
}
