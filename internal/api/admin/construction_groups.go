// construction_groups.go implements construction group administration and the region and
// zone lookups.
package admin

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

// OrganizationHandlers handles construction groups, regions and zones
type OrganizationHandlers struct {
	repo *repositories.OrganizationRepository
	rec  *audit.Recorder
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(db *sqlx.DB, rec *audit.Recorder) *OrganizationHandlers {
	return &OrganizationHandlers{repo: repositories.NewOrganizationRepository(db), rec: rec}
}

// ConstructionGroupRequest is the body of create and update
type ConstructionGroupRequest struct {
	Code     *string `json:"code"`
	Name     *string `json:"name"`
	RegionID *string `json:"region_id"`
	ZoneID   *string `json:"zone_id"`
	IsActive *bool   `json:"is_active"`
}

func (req *ConstructionGroupRequest) apply(cg *models.ConstructionGroup) {
	if req.Code != nil {
		cg.Code = strings.ToUpper(validation.Text(*req.Code))
	}
	if req.Name != nil {
		cg.Name = validation.Text(*req.Name)
	}
	if req.RegionID != nil {
		cg.RegionID = validation.TextPtr(req.RegionID)
	}
	if req.ZoneID != nil {
		cg.ZoneID = validation.TextPtr(req.ZoneID)
	}
	if req.IsActive != nil {
		cg.IsActive = *req.IsActive
	}
}

// @Summary      List construction groups
// @Tags         Organization
// @Security     Bearer
// @Produce      json
// @Param        active  query  bool  false  "Only active groups"
// @Success      200  {object}  map[string]interface{}  "construction_groups, count"
// @Router       /api/v1/admin/construction-groups [get]
// ListConstructionGroupsHandler lists construction groups ordered by code
// GET /api/v1/admin/construction-groups
func (h *OrganizationHandlers) ListConstructionGroupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		groups, err := h.repo.ListConstructionGroups(c.Request.Context(), c.Query("active") == "true")
		if err != nil {
			respondError(c, err, "Failed to list construction groups")
			return
		}
		if scope := middleware.CGScope(c); scope != nil {
			visible := make([]models.ConstructionGroup, 0, 1)
			for _, g := range groups {
				if g.ID == *scope {
					visible = append(visible, g)
				}
			}
			groups = visible
		}
		c.JSON(http.StatusOK, gin.H{"construction_groups": groups, "count": len(groups)})
	}
}

func (h *OrganizationHandlers) loadGroup(c *gin.Context) (*models.ConstructionGroup, bool) {
	cg, err := h.repo.GetConstructionGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve construction group")
		return nil, false
	}
	scope := middleware.CGScope(c)
	if cg == nil || (scope != nil && *scope != cg.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Construction group not found"})
		return nil, false
	}
	return cg, true
}

// @Summary      Get construction group
// @Tags         Organization
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Construction group ID"
// @Success      200  {object}  models.ConstructionGroup
// @Failure      404  {object}  map[string]interface{}  "Construction group not found"
// @Router       /api/v1/admin/construction-groups/{id} [get]
// GetConstructionGroupHandler returns one construction group
// GET /api/v1/admin/construction-groups/:id
func (h *OrganizationHandlers) GetConstructionGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if cg, ok := h.loadGroup(c); ok {
			c.JSON(http.StatusOK, cg)
		}
	}
}

// @Summary      Create construction group
// @Tags         Organization
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ConstructionGroupRequest  true  "Construction group"
// @Success      201  {object}  models.ConstructionGroup
// @Failure      400  {object}  map[string]interface{}  "Code and name are required"
// @Failure      409  {object}  map[string]interface{}  "Duplicate code"
// @Router       /api/v1/admin/construction-groups [post]
// CreateConstructionGroupHandler creates a construction group. Requires SUPER_ADMIN.
// POST /api/v1/admin/construction-groups
func (h *OrganizationHandlers) CreateConstructionGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConstructionGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		cg := &models.ConstructionGroup{IsActive: true}
		req.apply(cg)
		if cg.Code == "" || cg.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Code and name are required"})
			return
		}
		ctx := c.Request.Context()
		if err := h.repo.CreateConstructionGroup(ctx, cg); err != nil {
			respondError(c, err, "Failed to create construction group")
			return
		}
		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionCreate,
			Resource:   models.ResourceConstructionGroup,
			ResourceID: cg.ID,
			NewValues:  cg,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusCreated, cg)
	}
}

// @Summary      Update construction group
// @Tags         Organization
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                    true  "Construction group ID"
// @Param        body  body  ConstructionGroupRequest  true  "Fields to change"
// @Success      200  {object}  models.ConstructionGroup
// @Failure      404  {object}  map[string]interface{}  "Construction group not found"
// @Router       /api/v1/admin/construction-groups/{id} [patch]
// UpdateConstructionGroupHandler applies a partial update. Requires SUPER_ADMIN.
// PATCH /api/v1/admin/construction-groups/:id
func (h *OrganizationHandlers) UpdateConstructionGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConstructionGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		cg, ok := h.loadGroup(c)
		if !ok {
			return
		}
		before := *cg
		req.apply(cg)
		if cg.Code == "" || cg.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Code and name cannot be empty"})
			return
		}
		ctx := c.Request.Context()
		if err := h.repo.UpdateConstructionGroup(ctx, cg); err != nil {
			respondError(c, err, "Failed to update construction group")
			return
		}
		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionUpdate,
			Resource:   models.ResourceConstructionGroup,
			ResourceID: cg.ID,
			OldValues:  before,
			NewValues:  cg,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, cg)
	}
}

// @Summary      List regions
// @Tags         Organization
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "regions"
// @Router       /api/v1/admin/regions [get]
// ListRegionsHandler lists regions
// GET /api/v1/admin/regions
func (h *OrganizationHandlers) ListRegionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		regions, err := h.repo.ListRegions(c.Request.Context())
		if err != nil {
			respondError(c, err, "Failed to list regions")
			return
		}
		c.JSON(http.StatusOK, gin.H{"regions": regions})
	}
}

// @Summary      List zones
// @Tags         Organization
// @Security     Bearer
// @Produce      json
// @Param        region_id  query  string  false  "Region filter"
// @Success      200  {object}  map[string]interface{}  "zones"
// @Router       /api/v1/admin/zones [get]
// ListZonesHandler lists zones, optionally for one region
// GET /api/v1/admin/zones
func (h *OrganizationHandlers) ListZonesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		zones, err := h.repo.ListZones(c.Request.Context(), c.Query("region_id"))
		if err != nil {
			respondError(c, err, "Failed to list zones")
			return
		}
		c.JSON(http.StatusOK, gin.H{"zones": zones})
	}
}
