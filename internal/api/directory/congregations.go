package directory

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// CongregationHandlers handles congregations, projects and project congregation assignments
type CongregationHandlers struct {
	repo *repositories.CongregationRepository
	rec  *audit.Recorder
}

// NewCongregationHandlers creates a new CongregationHandlers instance
func NewCongregationHandlers(db *sqlx.DB, rec *audit.Recorder) *CongregationHandlers {
	return &CongregationHandlers{repo: repositories.NewCongregationRepository(db), rec: rec}
}

// CongregationRequest is the body of create and update
type CongregationRequest struct {
	Name                *string `json:"name"`
	Number              *string `json:"number"`
	City                *string `json:"city"`
	State               *string `json:"state"`
	CoordinatorName     *string `json:"coordinator_name"`
	CoordinatorPhone    *string `json:"coordinator_phone"`
	CoordinatorEmail    *string `json:"coordinator_email"`
	IsActive            *bool   `json:"is_active"`
	ConstructionGroupID *string `json:"construction_group_id"`
}

func (req *CongregationRequest) apply(cong *models.Congregation) error {
	if req.Name != nil {
		cong.Name = validation.Text(*req.Name)
	}
	if req.Number != nil {
		cong.Number = validation.TextPtr(req.Number)
	}
	if req.City != nil {
		cong.City = validation.TextPtr(req.City)
	}
	if req.State != nil {
		cong.State = validation.TextPtr(req.State)
	}
	if req.CoordinatorName != nil {
		cong.CoordinatorName = validation.TextPtr(req.CoordinatorName)
	}
	if req.CoordinatorPhone != nil {
		cong.CoordinatorPhone = validation.TextPtr(req.CoordinatorPhone)
	}
	if req.CoordinatorEmail != nil {
		if strings.TrimSpace(*req.CoordinatorEmail) == "" {
			cong.CoordinatorEmail = nil
		} else {
			if err := validation.Email(*req.CoordinatorEmail); err != nil {
				return err
			}
			e := validation.NormalizeEmail(*req.CoordinatorEmail)
			cong.CoordinatorEmail = &e
		}
	}
	if req.IsActive != nil {
		cong.IsActive = *req.IsActive
	}
	return nil
}

// @Summary      List congregations
// @Description  Active congregations in the caller's construction group ordered by name.
// @Tags         Congregations
// @Security     Bearer
// @Produce      json
// @Param        search  query  string  false  "Name, number, state or coordinator"
// @Success      200  {object}  map[string]interface{}  "congregations: []models.Congregation"
// @Router       /api/v1/congregations [get]
// ListCongregationsHandler lists congregations
// GET /api/v1/congregations?search=
func (h *CongregationHandlers) ListCongregationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.repo.ListCongregations(c.Request.Context(), middleware.CGScope(c), strings.TrimSpace(c.Query("search")))
		if err != nil {
			respondError(c, err, "Failed to list congregations")
			return
		}
		c.JSON(http.StatusOK, gin.H{"congregations": list, "count": len(list)})
	}
}

func (h *CongregationHandlers) loadCongregation(c *gin.Context) (*models.Congregation, bool) {
	cong, err := h.repo.GetCongregation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve congregation")
		return nil, false
	}
	if cong == nil || !inScope(c, cong.ConstructionGroupID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Congregation not found"})
		return nil, false
	}
	return cong, true
}

// @Summary      Get congregation
// @Tags         Congregations
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Congregation ID"
// @Success      200  {object}  models.Congregation
// @Failure      404  {object}  map[string]interface{}  "Congregation not found"
// @Router       /api/v1/congregations/{id} [get]
// GetCongregationHandler returns a congregation
// GET /api/v1/congregations/:id
func (h *CongregationHandlers) GetCongregationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cong, ok := h.loadCongregation(c); ok {
			c.JSON(http.StatusOK, cong)
		}
	}
}

// @Summary      Create congregation
// @Tags         Congregations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CongregationRequest  true  "Congregation"
// @Success      201  {object}  models.Congregation
// @Failure      400  {object}  map[string]interface{}  "Name is required"
// @Router       /api/v1/congregations [post]
// CreateCongregationHandler creates a congregation. Requires volunteers:write.
// POST /api/v1/congregations
func (h *CongregationHandlers) CreateCongregationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CongregationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		cong := &models.Congregation{ConstructionGroupID: ownerGroup(c, req.ConstructionGroupID)}
		if err := req.apply(cong); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if cong.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
			return
		}
		if err := h.repo.CreateCongregation(c.Request.Context(), cong); err != nil {
			respondError(c, err, "Failed to create congregation")
			return
		}
		c.JSON(http.StatusCreated, cong)
	}
}

// @Summary      Update congregation
// @Tags         Congregations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string               true  "Congregation ID"
// @Param        body  body  CongregationRequest  true  "Fields to change"
// @Success      200  {object}  models.Congregation
// @Failure      404  {object}  map[string]interface{}  "Congregation not found"
// @Router       /api/v1/congregations/{id} [patch]
// UpdateCongregationHandler applies a partial update
// PATCH /api/v1/congregations/:id
func (h *CongregationHandlers) UpdateCongregationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CongregationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		cong, ok := h.loadCongregation(c)
		if !ok {
			return
		}
		if err := req.apply(cong); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if cong.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name cannot be empty"})
			return
		}
		if err := h.repo.UpdateCongregation(c.Request.Context(), cong); err != nil {
			respondError(c, err, "Failed to update congregation")
			return
		}
		c.JSON(http.StatusOK, cong)
	}
}

// @Summary      Delete congregation
// @Description  Soft delete: the congregation is marked inactive.
// @Tags         Congregations
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Congregation ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      404  {object}  map[string]interface{}  "Congregation not found"
// @Router       /api/v1/congregations/{id} [delete]
// DeleteCongregationHandler deactivates a congregation
// DELETE /api/v1/congregations/:id
func (h *CongregationHandlers) DeleteCongregationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cong, ok := h.loadCongregation(c)
		if !ok {
			return
		}
		if err := h.repo.DeactivateCongregation(c.Request.Context(), cong.ID); err != nil {
			respondError(c, err, "Failed to delete congregation")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Congregation deactivated"})
	}
}
