// announcements.go implements announcement administration and the banner feed shown to
// signed-in users.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

const (
	maxAnnouncementTitle   = 200
	maxAnnouncementMessage = 2000
)

// AnnouncementHandlers handles announcement endpoints
type AnnouncementHandlers struct {
	repo *repositories.AnnouncementRepository
	now  func() time.Time
}

// NewAnnouncementHandlers creates a new AnnouncementHandlers instance
func NewAnnouncementHandlers(db *sqlx.DB) *AnnouncementHandlers {
	return &AnnouncementHandlers{repo: repositories.NewAnnouncementRepository(db), now: time.Now}
}

// AnnouncementRequest is the body of create and update. Dates are RFC3339 or YYYY-MM-DD.
type AnnouncementRequest struct {
	Title               *string   `json:"title"`
	Message             *string   `json:"message"`
	Type                *string   `json:"type"`
	StartDate           *string   `json:"start_date"`
	EndDate             *string   `json:"end_date"`
	ConstructionGroupID *string   `json:"construction_group_id"`
	TargetRoles         *[]string `json:"target_roles"`
	IsActive            *bool     `json:"is_active"`
}

// apply copies the request onto a. scope is the caller's construction group restriction;
// only unscoped callers choose the group, including none for a global announcement.
func (req *AnnouncementRequest) apply(a *models.Announcement, scope *string) (string, bool) {
	if req.Title != nil {
		a.Title = validation.Text(*req.Title)
	}
	if req.Message != nil {
		a.Message = strings.TrimSpace(*req.Message)
	}
	if req.Type != nil {
		a.Type = strings.ToUpper(strings.TrimSpace(*req.Type))
	}
	if req.StartDate != nil {
		t, err := parseDay(strings.TrimSpace(*req.StartDate), false)
		if err != nil {
			return "Invalid start_date", false
		}
		a.StartDate = t
	}
	if req.EndDate != nil {
		t, err := parseDay(strings.TrimSpace(*req.EndDate), true)
		if err != nil {
			return "Invalid end_date", false
		}
		a.EndDate = t
	}
	if req.TargetRoles != nil {
		roles := make([]string, 0, len(*req.TargetRoles))
		for _, r := range *req.TargetRoles {
			r = strings.ToUpper(strings.TrimSpace(r))
			if !models.IsValidUserRole(r) {
				return "Invalid target role: " + r, false
			}
			roles = append(roles, r)
		}
		a.TargetRoles = roles
	}
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
	if scope != nil {
		a.ConstructionGroupID = scope
	} else if req.ConstructionGroupID != nil {
		a.ConstructionGroupID = validation.TextPtr(req.ConstructionGroupID)
	}

	switch {
	case a.Title == "" || a.Message == "":
		return "Title and message are required", false
	case len(a.Title) > maxAnnouncementTitle:
		return "Title must be at most 200 characters", false
	case len(a.Message) > maxAnnouncementMessage:
		return "Message must be at most 2000 characters", false
	case !models.IsValidAnnouncementType(a.Type):
		return "Invalid announcement type", false
	case a.StartDate != nil && a.EndDate != nil && a.EndDate.Before(*a.StartDate):
		return "end_date must not be before start_date", false
	}
	return "", true
}

// @Summary      List announcements
// @Tags         Announcements
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "announcements, count"
// @Router       /api/v1/admin/announcements [get]
// ListAnnouncementsHandler lists every announcement the caller manages, newest first
// GET /api/v1/admin/announcements
func (h *AnnouncementHandlers) ListAnnouncementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.repo.ListAnnouncements(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "Failed to list announcements")
			return
		}
		c.JSON(http.StatusOK, gin.H{"announcements": list, "count": len(list)})
	}
}

// @Summary      Current announcements
// @Description  Active announcements within their display window for the caller's construction group and role.
// @Tags         Announcements
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "announcements"
// @Router       /api/v1/announcements [get]
// CurrentAnnouncementsHandler returns the banners to show the caller
// GET /api/v1/announcements
func (h *AnnouncementHandlers) CurrentAnnouncementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUser(c)
		list, err := h.repo.ListCurrent(c.Request.Context(), user.ConstructionGroupID, h.now())
		if err != nil {
			respondError(c, err, "Failed to fetch announcements")
			return
		}
		visible := make([]*models.Announcement, 0, len(list))
		for _, a := range list {
			if a.Targets(user.Role) {
				visible = append(visible, a)
			}
		}
		c.JSON(http.StatusOK, gin.H{"announcements": visible})
	}
}

// @Summary      Create announcement
// @Tags         Announcements
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  AnnouncementRequest  true  "Announcement"
// @Success      201  {object}  models.Announcement
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Router       /api/v1/admin/announcements [post]
// CreateAnnouncementHandler creates an announcement. Group-scoped admins always post to their own group.
// POST /api/v1/admin/announcements
func (h *AnnouncementHandlers) CreateAnnouncementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AnnouncementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		user := middleware.GetUser(c)
		a := &models.Announcement{Type: models.AnnouncementInfo, IsActive: true, CreatedBy: &user.ID}
		if msg, ok := req.apply(a, middleware.CGScope(c)); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}
		if err := h.repo.CreateAnnouncement(c.Request.Context(), a); err != nil {
			respondError(c, err, "Failed to create announcement")
			return
		}
		c.JSON(http.StatusCreated, a)
	}
}

func (h *AnnouncementHandlers) load(c *gin.Context) (*models.Announcement, bool) {
	a, err := h.repo.GetAnnouncement(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve announcement")
		return nil, false
	}
	scope := middleware.CGScope(c)
	if a == nil || (scope != nil && (a.ConstructionGroupID == nil || *a.ConstructionGroupID != *scope)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Announcement not found"})
		return nil, false
	}
	return a, true
}

// @Summary      Update announcement
// @Tags         Announcements
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Announcement ID"
// @Param        body  body  AnnouncementRequest  true  "Changes"
// @Success      200  {object}  models.Announcement
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      404  {object}  map[string]interface{}  "Announcement not found"
// @Router       /api/v1/admin/announcements/{id} [put]
// UpdateAnnouncementHandler edits an announcement
// PUT /api/v1/admin/announcements/:id
func (h *AnnouncementHandlers) UpdateAnnouncementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AnnouncementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		a, ok := h.load(c)
		if !ok {
			return
		}
		if msg, ok := req.apply(a, middleware.CGScope(c)); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": msg})
			return
		}
		if err := h.repo.UpdateAnnouncement(c.Request.Context(), a); err != nil {
			respondError(c, err, "Failed to update announcement")
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// @Summary      Delete announcement
// @Tags         Announcements
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Announcement ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      404  {object}  map[string]interface{}  "Announcement not found"
// @Router       /api/v1/admin/announcements/{id} [delete]
// DeleteAnnouncementHandler removes an announcement
// DELETE /api/v1/admin/announcements/:id
func (h *AnnouncementHandlers) DeleteAnnouncementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := h.load(c)
		if !ok {
			return
		}
		if _, err := h.repo.DeleteAnnouncement(c.Request.Context(), a.ID); err != nil {
			respondError(c, err, "Failed to delete announcement")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Announcement deleted successfully"})
	}
}
