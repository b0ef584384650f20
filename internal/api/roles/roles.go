// Package roles implements the role catalog and role assignment endpoints.
package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/services"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// RoleHandlers handles the role catalog
type RoleHandlers struct {
	db    *sqlx.DB
	roles *repositories.RoleRepository
	views *services.ReadModels
}

// NewRoleHandlers creates a new RoleHandlers instance
func NewRoleHandlers(db *sqlx.DB, views *services.ReadModels) *RoleHandlers {
	return &RoleHandlers{db: db, roles: repositories.NewRoleRepository(db), views: views}
}

// RoleRequest is the body of create and update
type RoleRequest struct {
	Code        string      `json:"code"`
	Name        *string     `json:"name"`
	Category    string      `json:"category"`
	Level       *int        `json:"level"`
	Permissions models.JSON `json:"permissions"`
	Description *string     `json:"description"`
	IsActive    *bool       `json:"is_active"`
}

func validCategory(c string) bool {
	for _, known := range models.RoleCategories {
		if c == known {
			return true
		}
	}
	return false
}

// @Summary      List roles
// @Description  Role catalog, optionally filtered by category, also grouped by category.
// @Tags         Roles
// @Security     Bearer
// @Produce      json
// @Param        category          query  string  false  "Role category"
// @Param        include_inactive  query  bool    false  "Include inactive roles"
// @Success      200  {object}  map[string]interface{}  "roles, grouped, categories"
// @Router       /api/v1/roles [get]
// ListRolesHandler lists the role catalog
// GET /api/v1/roles
func (h *RoleHandlers) ListRolesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		category := strings.ToUpper(c.Query("category"))
		if category != "" && !validCategory(category) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category. Must be one of: " + strings.Join(models.RoleCategories, ", ")})
			return
		}

		var (
			list []*models.Role
			err  error
		)
		if category == "" && c.Query("include_inactive") != "true" {
			list, err = h.views.RoleCatalog(c.Request.Context())
		} else {
			list, err = h.roles.ListRoles(c.Request.Context(), category, c.Query("include_inactive") != "true")
		}
		if err != nil {
			slog.Error("failed to list roles", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list roles"})
			return
		}

		grouped := make(map[string][]*models.Role)
		for _, r := range list {
			grouped[r.Category] = append(grouped[r.Category], r)
		}
		c.JSON(http.StatusOK, gin.H{
			"roles":      list,
			"grouped":    grouped,
			"categories": models.RoleCategories,
		})
	}
}

// @Summary      Get role
// @Tags         Roles
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Role ID"
// @Success      200  {object}  models.Role
// @Failure      404  {object}  map[string]interface{}  "Role not found"
// @Router       /api/v1/roles/{id} [get]
// GetRoleHandler returns a role
// GET /api/v1/roles/:id
func (h *RoleHandlers) GetRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := h.roles.GetRole(c.Request.Context(), h.db, c.Param("id"))
		if err != nil {
			slog.Error("failed to get role", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve role"})
			return
		}
		if role == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found"})
			return
		}
		c.JSON(http.StatusOK, role)
	}
}

// @Summary      Create role
// @Tags         Roles
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  RoleRequest  true  "Role"
// @Success      201  {object}  models.Role
// @Failure      400  {object}  map[string]interface{}  "Invalid input"
// @Failure      409  {object}  map[string]interface{}  "Code already exists"
// @Router       /api/v1/roles [post]
// CreateRoleHandler adds a catalog entry
// POST /api/v1/roles
func (h *RoleHandlers) CreateRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		code := strings.ToUpper(strings.TrimSpace(req.Code))
		if code == "" || req.Name == nil || strings.TrimSpace(*req.Name) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and name are required"})
			return
		}
		category := strings.ToUpper(req.Category)
		if !validCategory(category) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category. Must be one of: " + strings.Join(models.RoleCategories, ", ")})
			return
		}

		role := &models.Role{
			Code:        code,
			Name:        validation.Text(*req.Name),
			Category:    category,
			Permissions: req.Permissions,
			Description: validation.Notes(req.Description),
			IsActive:    true,
		}
		if req.Level != nil {
			role.Level = *req.Level
		}
		if req.IsActive != nil {
			role.IsActive = *req.IsActive
		}
		if err := h.roles.CreateRole(c.Request.Context(), role); err != nil {
			if errors.Is(err, repositories.ErrDuplicateName) {
				c.JSON(http.StatusConflict, gin.H{"error": "A role with this code already exists"})
				return
			}
			slog.Error("failed to create role", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create role"})
			return
		}
		h.views.InvalidateRoles(c.Request.Context())
		c.JSON(http.StatusCreated, role)
	}
}

// @Summary      Update role
// @Description  Changes display name, level, permissions, description or active flag. Code and category are fixed.
// @Tags         Roles
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string       true  "Role ID"
// @Param        body  body  RoleRequest  true  "Fields to change"
// @Success      200  {object}  models.Role
// @Failure      404  {object}  map[string]interface{}  "Role not found"
// @Router       /api/v1/roles/{id} [patch]
// UpdateRoleHandler updates a catalog entry
// PATCH /api/v1/roles/:id
func (h *RoleHandlers) UpdateRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		role, err := h.roles.GetRole(c.Request.Context(), h.db, c.Param("id"))
		if err != nil {
			slog.Error("failed to get role", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve role"})
			return
		}
		if role == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Role not found"})
			return
		}

		if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
			role.Name = validation.Text(*req.Name)
		}
		if req.Level != nil {
			role.Level = *req.Level
		}
		if req.Permissions != nil {
			role.Permissions = req.Permissions
		}
		if req.Description != nil {
			role.Description = validation.Notes(req.Description)
		}
		if req.IsActive != nil {
			role.IsActive = *req.IsActive
		}
		if err := h.roles.UpdateRole(c.Request.Context(), role); err != nil {
			slog.Error("failed to update role", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update role"})
			return
		}
		h.views.InvalidateRoles(c.Request.Context())
		c.JSON(http.StatusOK, role)
	}
}
