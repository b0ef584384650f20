// users.go implements the user administration handlers: listing, invitations, access changes,
// password resets and linking a login to a volunteer record.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

const tempPasswordLength = 12

// UserHandlers handles user management endpoints
type UserHandlers struct {
	cfg        *config.Config
	users      *repositories.UserRepository
	volunteers *repositories.VolunteerRepository
	tokens     *repositories.AccountTokenRepository
	mail       *email.Service
	rec        *audit.Recorder
}

// NewUserHandlers creates a new UserHandlers instance. mail may be nil.
func NewUserHandlers(cfg *config.Config, db *sqlx.DB, mail *email.Service, rec *audit.Recorder) *UserHandlers {
	return &UserHandlers{
		cfg:        cfg,
		users:      repositories.NewUserRepository(db),
		volunteers: repositories.NewVolunteerRepository(db),
		tokens:     repositories.NewAccountTokenRepository(db),
		mail:       mail,
		rec:        rec,
	}
}

// InviteUserRequest is the body of POST /admin/users/invite
type InviteUserRequest struct {
	Email               string  `json:"email"`
	Name                *string `json:"name"`
	Role                string  `json:"role"`
	AdminLevel          *string `json:"admin_level"`
	ConstructionGroupID *string `json:"construction_group_id"`
}

// UpdateUserRequest is the body of PATCH /admin/users/:id
type UpdateUserRequest struct {
	Name                *string `json:"name"`
	Role                *string `json:"role"`
	AdminLevel          *string `json:"admin_level"`
	IsActive            *bool   `json:"is_active"`
	ConstructionGroupID *string `json:"construction_group_id"`
}

// LinkVolunteerRequest is the body of POST /admin/users/:id/link-volunteer. A null
// volunteer_id unlinks.
type LinkVolunteerRequest struct {
	VolunteerID *string `json:"volunteer_id"`
}

func isSuperAdmin(c *gin.Context) bool {
	u := middleware.GetUser(c)
	return u != nil && u.Role == models.RoleSuperAdmin
}

// manageable reports whether the caller may change target: SUPER_ADMIN may change anyone,
// other admins only non-SUPER_ADMIN users of their own construction group.
func manageable(c *gin.Context, target *models.User) bool {
	if isSuperAdmin(c) {
		return true
	}
	if target.Role == models.RoleSuperAdmin {
		return false
	}
	scope := middleware.CGScope(c)
	return target.ConstructionGroupID != nil && scope != nil && *target.ConstructionGroupID == *scope
}

func (h *UserHandlers) loadUser(c *gin.Context) (*models.User, bool) {
	user, err := h.users.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve user")
		return nil, false
	}
	if user == nil || !manageable(c, user) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil, false
	}
	return user, true
}

// mailConfigured reports whether invitation and reset emails can be sent.
func (h *UserHandlers) mailConfigured(c *gin.Context) bool {
	return h.mail != nil && h.mail.Configured(c.Request.Context())
}

// @Summary      List users
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        search    query  string  false  "Email or name"
// @Param        role      query  string  false  "Role filter"
// @Param        page      query  int     false  "Page (default 1)"
// @Param        per_page  query  int     false  "Items per page (default 20, max 100)"
// @Success      200  {object}  map[string]interface{}  "users, pagination"
// @Router       /api/v1/admin/users [get]
// ListUsersHandler lists login users. Admins below SUPER_ADMIN see their own construction group.
// GET /api/v1/admin/users
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		role := strings.ToUpper(strings.TrimSpace(c.Query("role")))
		if role != "" && !models.IsValidUserRole(role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			return
		}

		filters := repositories.UserFilters{
			Search:              strings.TrimSpace(c.Query("search")),
			Role:                role,
			ConstructionGroupID: middleware.CGScope(c),
		}
		users, total, err := h.users.ListUsers(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			respondError(c, err, "Failed to list users")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"users": users,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// @Summary      User statistics
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.UserStats
// @Router       /api/v1/admin/users/stats [get]
// UserStatsHandler returns counts of users by state and role
// GET /api/v1/admin/users/stats
func (h *UserHandlers) UserStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.users.GetStats(c.Request.Context())
		if err != nil {
			respondError(c, err, "Failed to load user statistics")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// @Summary      Invite user
// @Description  When email is configured the account is created without a password and the user receives a single-use link to choose one. If sending fails the link is returned as invite_url. Without email the account gets a temporary password that is returned once in the response.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  InviteUserRequest  true  "Invitation"
// @Success      201  {object}  map[string]interface{}  "user, email_sent, invite_url or temporary_password"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      409  {object}  map[string]interface{}  "Email already registered"
// @Router       /api/v1/admin/users/invite [post]
// InviteUserHandler creates a user and sends the invitation
// POST /api/v1/admin/users/invite
func (h *UserHandlers) InviteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InviteUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := validation.Email(req.Email); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role := strings.ToUpper(strings.TrimSpace(req.Role))
		if role == "" {
			role = models.RoleUser
		}
		if !models.IsValidUserRole(role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
			return
		}
		if role == models.RoleSuperAdmin && !isSuperAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only a SUPER_ADMIN can grant SUPER_ADMIN"})
			return
		}

		user := &models.User{
			Email:      validation.NormalizeEmail(req.Email),
			Name:       validation.TextPtr(req.Name),
			Role:       role,
			AdminLevel: validation.TextPtr(req.AdminLevel),
			IsActive:   true,
		}
		user.ConstructionGroupID = req.ConstructionGroupID
		if cg := middleware.CGScope(c); cg != nil {
			user.ConstructionGroupID = cg
		}

		// Without email the account needs a temporary password the admin can hand over.
		byLink := h.mailConfigured(c)
		temp := ""
		if !byLink {
			var err error
			if temp, err = auth.GenerateTempPassword(tempPasswordLength); err != nil {
				respondError(c, err, "Failed to generate password")
				return
			}
			hash, err := auth.HashPassword(temp)
			if err != nil {
				respondError(c, err, "Failed to generate password")
				return
			}
			user.PasswordHash = &hash
		}

		ctx := c.Request.Context()
		if err := h.users.CreateUser(ctx, user); err != nil {
			respondError(c, err, "Failed to create user")
			return
		}

		sent := false
		link := ""
		if byLink {
			ttl := inviteTTL(h.cfg)
			token, err := issueToken(ctx, h.tokens, user.ID, models.TokenInvite, ttl, time.Now())
			if err != nil {
				respondError(c, err, "Failed to create invitation")
				return
			}
			link = accountLink(h.cfg, "/accept-invite", token)
			if err := h.mail.SendInviteLink(ctx, user.Email, user.DisplayName(), link, ttl); err != nil {
				slog.Warn("failed to send invitation", "user_id", user.ID, "error", email.ClassifyError(err))
			} else {
				sent = true
			}
		}

		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionInvite,
			Resource:   models.ResourceUser,
			ResourceID: user.ID,
			NewValues:  user,
			Metadata:   map[string]interface{}{"email_sent": sent, "by_link": byLink},
		})
		middleware.MarkAudited(c)

		resp := gin.H{"user": user, "email_sent": sent}
		switch {
		case byLink && !sent:
			resp["invite_url"] = link
		case !byLink:
			resp["temporary_password"] = temp
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary      Update user
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string             true  "User ID"
// @Param        body  body  UpdateUserRequest  true  "Fields to change"
// @Success      200  {object}  models.User
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/v1/admin/users/{id} [patch]
// UpdateUserHandler changes role, admin level, active flag or construction group
// PATCH /api/v1/admin/users/:id
func (h *UserHandlers) UpdateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		user, ok := h.loadUser(c)
		if !ok {
			return
		}
		before := *user
		self := user.ID == c.GetString("user_id")

		if req.Role != nil {
			role := strings.ToUpper(strings.TrimSpace(*req.Role))
			if !models.IsValidUserRole(role) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
				return
			}
			if role == models.RoleSuperAdmin && !isSuperAdmin(c) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Only a SUPER_ADMIN can grant SUPER_ADMIN"})
				return
			}
			if self && role != user.Role {
				c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot change your own role"})
				return
			}
			user.Role = role
		}
		if req.IsActive != nil {
			if self && !*req.IsActive {
				c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot deactivate your own account"})
				return
			}
			user.IsActive = *req.IsActive
		}
		if req.Name != nil {
			user.Name = validation.TextPtr(req.Name)
		}
		if req.AdminLevel != nil {
			user.AdminLevel = validation.TextPtr(req.AdminLevel)
		}
		if req.ConstructionGroupID != nil {
			if !isSuperAdmin(c) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Only a SUPER_ADMIN can move users between construction groups"})
				return
			}
			user.ConstructionGroupID = optString(strings.TrimSpace(*req.ConstructionGroupID))
		}

		ctx := c.Request.Context()
		if err := h.users.UpdateUser(ctx, user); err != nil {
			respondError(c, err, "Failed to update user")
			return
		}

		action := models.ActionUpdate
		switch {
		case before.Role != user.Role:
			action = models.ActionRoleChange
		case before.IsActive && !user.IsActive:
			action = models.ActionDeactivate
		case !before.IsActive && user.IsActive:
			action = models.ActionActivate
		}
		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     action,
			Resource:   models.ResourceUser,
			ResourceID: user.ID,
			OldValues:  before,
			NewValues:  user,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, user)
	}
}

// @Summary      Delete user
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "You cannot delete your own account"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/v1/admin/users/{id} [delete]
// DeleteUserHandler deletes a user. Requires SUPER_ADMIN.
// DELETE /api/v1/admin/users/:id
func (h *UserHandlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.loadUser(c)
		if !ok {
			return
		}
		if user.ID == c.GetString("user_id") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot delete your own account"})
			return
		}
		ctx := c.Request.Context()
		if err := h.users.DeleteUser(ctx, user.ID); err != nil {
			respondError(c, err, "Failed to delete user")
			return
		}
		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionDelete,
			Resource:   models.ResourceUser,
			ResourceID: user.ID,
			OldValues:  user,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
	}
}

// @Summary      Reset password
// @Description  Generates a temporary password and emails it. Without email configuration the password is returned once in the response.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}  "message, email_sent, temporary_password"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/v1/admin/users/{id}/reset-password [post]
// ResetPasswordHandler issues a temporary password
// POST /api/v1/admin/users/:id/reset-password
func (h *UserHandlers) ResetPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := h.loadUser(c)
		if !ok {
			return
		}
		temp, err := auth.GenerateTempPassword(tempPasswordLength)
		if err != nil {
			respondError(c, err, "Failed to generate password")
			return
		}
		hash, err := auth.HashPassword(temp)
		if err != nil {
			respondError(c, err, "Failed to generate password")
			return
		}
		ctx := c.Request.Context()
		if err := h.users.SetPassword(ctx, user.ID, hash); err != nil {
			respondError(c, err, "Failed to reset password")
			return
		}

		sent := false
		if h.mailConfigured(c) {
			if err := h.mail.SendPasswordReset(ctx, user.Email, user.DisplayName(), temp); err != nil {
				slog.Warn("failed to send password reset", "user_id", user.ID, "error", email.ClassifyError(err))
			} else {
				sent = true
			}
		}

		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionPasswordChange,
			Resource:   models.ResourceUser,
			ResourceID: user.ID,
			Metadata:   map[string]interface{}{"email_sent": sent, "reset": true},
		})
		middleware.MarkAudited(c)

		resp := gin.H{"message": "Password reset", "email_sent": sent}
		if !sent {
			resp["temporary_password"] = temp
		}
		c.JSON(http.StatusOK, resp)
	}
}

// @Summary      Link volunteer
// @Description  Links the user to a volunteer record in the same construction group, or unlinks with a null volunteer_id.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                true  "User ID"
// @Param        body  body  LinkVolunteerRequest  true  "Volunteer"
// @Success      200  {object}  map[string]interface{}  "message, volunteer_id"
// @Failure      404  {object}  map[string]interface{}  "User or volunteer not found"
// @Failure      409  {object}  map[string]interface{}  "Volunteer is already linked to another user"
// @Router       /api/v1/admin/users/{id}/link-volunteer [post]
// LinkVolunteerHandler links a login to a volunteer
// POST /api/v1/admin/users/:id/link-volunteer
func (h *UserHandlers) LinkVolunteerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LinkVolunteerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		user, ok := h.loadUser(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		current, err := h.volunteers.GetVolunteerByUserID(ctx, user.ID)
		if err != nil {
			respondError(c, err, "Failed to link volunteer")
			return
		}

		if req.VolunteerID == nil || *req.VolunteerID == "" {
			if current != nil {
				if err := h.volunteers.LinkUser(ctx, current.ID, nil); err != nil {
					respondError(c, err, "Failed to unlink volunteer")
					return
				}
				h.recordLink(c, current.ID, user.ID, false)
			}
			c.JSON(http.StatusOK, gin.H{"message": "Volunteer unlinked", "volunteer_id": nil})
			return
		}

		vol, err := h.volunteers.GetVolunteer(ctx, *req.VolunteerID)
		if err != nil {
			respondError(c, err, "Failed to link volunteer")
			return
		}
		scope := middleware.CGScope(c)
		if vol == nil || (scope != nil && (vol.ConstructionGroupID == nil || *vol.ConstructionGroupID != *scope)) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Volunteer not found"})
			return
		}
		if current != nil && current.ID != vol.ID {
			if err := h.volunteers.LinkUser(ctx, current.ID, nil); err != nil {
				respondError(c, err, "Failed to link volunteer")
				return
			}
		}
		if err := h.volunteers.LinkUser(ctx, vol.ID, &user.ID); err != nil {
			if errors.Is(err, repositories.ErrDuplicateName) {
				c.JSON(http.StatusConflict, gin.H{"error": "Volunteer is already linked to another user"})
				return
			}
			respondError(c, err, "Failed to link volunteer")
			return
		}
		h.recordLink(c, vol.ID, user.ID, true)
		c.JSON(http.StatusOK, gin.H{"message": "Volunteer linked", "volunteer_id": vol.ID})
	}
}

func (h *UserHandlers) recordLink(c *gin.Context, volunteerID, userID string, linked bool) {
	var userRef interface{}
	if linked {
		userRef = userID
	}
	h.rec.Record(c.Request.Context(), middleware.ActorFromContext(c), audit.Event{
		Action:     models.ActionUpdate,
		Resource:   models.ResourceVolunteer,
		ResourceID: volunteerID,
		NewValues:  map[string]interface{}{"user_id": userRef},
		Metadata:   map[string]interface{}{"login_user_id": userID},
	})
	middleware.MarkAudited(c)
}
