package directory

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// ProjectRequest is the body of POST /projects
type ProjectRequest struct {
	Name                string  `json:"name"`
	Number              *string `json:"number"`
	Status              string  `json:"status"`
	ConstructionGroupID *string `json:"construction_group_id"`
}

// ProjectCongregationRequest is the body of create and update. congregation_id is only read on create.
type ProjectCongregationRequest struct {
	CongregationID   string          `json:"congregation_id"`
	FoodContact      *models.Contact `json:"food_contact"`
	VolunteerContact *models.Contact `json:"volunteer_contact"`
	SecurityContact  *models.Contact `json:"security_contact"`
	Notes            *string         `json:"notes"`
}

type congregationRef struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Number *string `json:"number,omitempty"`
}

// projectCongregationView nests the congregation and the three contacts.
type projectCongregationView struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	Congregation     congregationRef `json:"congregation"`
	FoodContact      models.Contact  `json:"food_contact"`
	VolunteerContact models.Contact  `json:"volunteer_contact"`
	SecurityContact  models.Contact  `json:"security_contact"`
	Notes            *string         `json:"notes,omitempty"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func viewOf(pc *models.ProjectCongregation) projectCongregationView {
	return projectCongregationView{
		ID:               pc.ID,
		ProjectID:        pc.ProjectID,
		Congregation:     congregationRef{ID: pc.CongregationID, Name: pc.CongregationName, Number: pc.CongregationNumber},
		FoodContact:      pc.FoodContact(),
		VolunteerContact: pc.VolunteerContact(),
		SecurityContact:  pc.SecurityContact(),
		Notes:            pc.Notes,
		IsActive:         pc.IsActive,
		CreatedAt:        pc.CreatedAt,
		UpdatedAt:        pc.UpdatedAt,
	}
}

// setContact validates in and writes it to the three flat columns.
func setContact(in *models.Contact, name, phone, email **string) error {
	if in == nil {
		return nil
	}
	*name = validation.TextPtr(in.Name)
	*phone = validation.TextPtr(in.Phone)
	*email = nil
	if in.Email != nil && strings.TrimSpace(*in.Email) != "" {
		if err := validation.Email(*in.Email); err != nil {
			return err
		}
		e := validation.NormalizeEmail(*in.Email)
		*email = &e
	}
	return nil
}

func (req *ProjectCongregationRequest) apply(pc *models.ProjectCongregation) error {
	if err := setContact(req.FoodContact, &pc.FoodContactName, &pc.FoodContactPhone, &pc.FoodContactEmail); err != nil {
		return err
	}
	if err := setContact(req.VolunteerContact, &pc.VolunteerContactName, &pc.VolunteerContactPhone, &pc.VolunteerContactEmail); err != nil {
		return err
	}
	if err := setContact(req.SecurityContact, &pc.SecurityContactName, &pc.SecurityContactPhone, &pc.SecurityContactEmail); err != nil {
		return err
	}
	if req.Notes != nil {
		pc.Notes = validation.Notes(req.Notes)
	}
	return nil
}

// @Summary      List projects
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "projects: []models.Project"
// @Router       /api/v1/projects [get]
// ListProjectsHandler lists the caller's projects
// GET /api/v1/projects
func (h *CongregationHandlers) ListProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.repo.ListProjects(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "Failed to list projects")
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": list, "count": len(list)})
	}
}

// @Summary      Create project
// @Tags         Projects
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  ProjectRequest  true  "Project"
// @Success      201  {object}  models.Project
// @Failure      400  {object}  map[string]interface{}  "Name is required"
// @Router       /api/v1/projects [post]
// CreateProjectHandler creates a project
// POST /api/v1/projects
func (h *CongregationHandlers) CreateProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		name := validation.Text(req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Name is required"})
			return
		}
		p := &models.Project{
			Name:                name,
			Number:              validation.TextPtr(req.Number),
			Status:              strings.ToLower(strings.TrimSpace(req.Status)),
			ConstructionGroupID: ownerGroup(c, req.ConstructionGroupID),
		}
		if err := h.repo.CreateProject(c.Request.Context(), p); err != nil {
			respondError(c, err, "Failed to create project")
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func (h *CongregationHandlers) loadProject(c *gin.Context) (*models.Project, bool) {
	p, err := h.repo.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve project")
		return nil, false
	}
	if p == nil || !inScope(c, p.ConstructionGroupID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return nil, false
	}
	return p, true
}

// @Summary      Get project
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Project ID"
// @Success      200  {object}  models.Project
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Router       /api/v1/projects/{id} [get]
// GetProjectHandler returns a project
// GET /api/v1/projects/:id
func (h *CongregationHandlers) GetProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := h.loadProject(c); ok {
			c.JSON(http.StatusOK, p)
		}
	}
}

// @Summary      List project congregations
// @Description  Active congregation assignments with their food, volunteer and security contacts.
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Project ID"
// @Success      200  {object}  map[string]interface{}  "congregations"
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Router       /api/v1/projects/{id}/congregations [get]
// ListProjectCongregationsHandler lists a project's congregations
// GET /api/v1/projects/:id/congregations
func (h *CongregationHandlers) ListProjectCongregationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := h.loadProject(c)
		if !ok {
			return
		}
		list, err := h.repo.ListProjectCongregations(c.Request.Context(), p.ID)
		if err != nil {
			respondError(c, err, "Failed to list project congregations")
			return
		}
		out := make([]projectCongregationView, 0, len(list))
		for _, pc := range list {
			out = append(out, viewOf(pc))
		}
		c.JSON(http.StatusOK, gin.H{"congregations": out, "count": len(out)})
	}
}

// @Summary      Assign congregation to project
// @Tags         Projects
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                      true  "Project ID"
// @Param        body  body  ProjectCongregationRequest  true  "Assignment"
// @Success      201  {object}  projectCongregationView
// @Failure      409  {object}  map[string]interface{}  "Already assigned"
// @Router       /api/v1/projects/{id}/congregations [post]
// CreateProjectCongregationHandler assigns a congregation to a project
// POST /api/v1/projects/:id/congregations
func (h *CongregationHandlers) CreateProjectCongregationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProjectCongregationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.CongregationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "congregation_id is required"})
			return
		}
		p, ok := h.loadProject(c)
		if !ok {
			return
		}
		cong, err := h.repo.GetCongregation(c.Request.Context(), req.CongregationID)
		if err != nil {
			respondError(c, err, "Failed to retrieve congregation")
			return
		}
		if cong == nil || !cong.IsActive || !inScope(c, cong.ConstructionGroupID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Congregation not found"})
			return
		}

		pc := &models.ProjectCongregation{ProjectID: p.ID, CongregationID: cong.ID}
		if err := req.apply(pc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := h.repo.CreateProjectCongregation(c.Request.Context(), pc); err != nil {
			respondError(c, err, "Failed to assign congregation")
			return
		}
		pc.CongregationName, pc.CongregationNumber = cong.Name, cong.Number
		c.JSON(http.StatusCreated, viewOf(pc))
	}
}

func (h *CongregationHandlers) loadProjectCongregation(c *gin.Context) (*models.ProjectCongregation, bool) {
	p, ok := h.loadProject(c)
	if !ok {
		return nil, false
	}
	pc, err := h.repo.GetProjectCongregation(c.Request.Context(), p.ID, c.Param("assignmentId"))
	if err != nil {
		respondError(c, err, "Failed to retrieve project congregation")
		return nil, false
	}
	if pc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project congregation not found"})
		return nil, false
	}
	return pc, true
}

// @Summary      Update project congregation
// @Tags         Projects
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id            path  string                      true  "Project ID"
// @Param        assignmentId  path  string                      true  "Assignment ID"
// @Param        body          body  ProjectCongregationRequest  true  "Contacts and notes"
// @Success      200  {object}  projectCongregationView
// @Router       /api/v1/projects/{id}/congregations/{assignmentId} [patch]
// UpdateProjectCongregationHandler replaces the given contacts and notes
// PATCH /api/v1/projects/:id/congregations/:assignmentId
func (h *CongregationHandlers) UpdateProjectCongregationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProjectCongregationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		pc, ok := h.loadProjectCongregation(c)
		if !ok {
			return
		}
		if err := req.apply(pc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := h.repo.UpdateProjectCongregation(c.Request.Context(), pc); err != nil {
			respondError(c, err, "Failed to update project congregation")
			return
		}
		c.JSON(http.StatusOK, viewOf(pc))
	}
}

// @Summary      Remove project congregation
// @Description  Soft delete: the assignment is marked inactive.
// @Tags         Projects
// @Security     Bearer
// @Produce      json
// @Param        id            path  string  true  "Project ID"
// @Param        assignmentId  path  string  true  "Assignment ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Router       /api/v1/projects/{id}/congregations/{assignmentId} [delete]
// DeleteProjectCongregationHandler deactivates an assignment
// DELETE /api/v1/projects/:id/congregations/:assignmentId
func (h *CongregationHandlers) DeleteProjectCongregationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pc, ok := h.loadProjectCongregation(c)
		if !ok {
			return
		}
		if err := h.repo.DeactivateProjectCongregation(c.Request.Context(), pc.ID); err != nil {
			respondError(c, err, "Failed to remove project congregation")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Congregation removed from project"})
	}
}

// @Summary      Export project contacts
// @Tags         Projects
// @Security     Bearer
// @Produce      text/csv
// @Param        id  path  string  true  "Project ID"
// @Success      200  {string}  string  "CSV"
// @Router       /api/v1/projects/{id}/congregations/export [get]
// ExportProjectCongregationsHandler writes the contact sheet as CSV, one row per congregation
// GET /api/v1/projects/:id/congregations/export
func (h *CongregationHandlers) ExportProjectCongregationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := h.loadProject(c)
		if !ok {
			return
		}
		list, err := h.repo.ListProjectCongregations(c.Request.Context(), p.ID)
		if err != nil {
			respondError(c, err, "Failed to export project congregations")
			return
		}

		h.rec.Record(c.Request.Context(), middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionExport,
			Resource:   models.ResourceProject,
			ResourceID: p.ID,
			Metadata:   map[string]interface{}{"count": len(list)},
		})
		middleware.MarkAudited(c)

		filename := fmt.Sprintf("project-contacts-%s.csv", time.Now().Format("2006-01-02"))
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Status(http.StatusOK)

		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"Congregation", "Number",
			"Food Contact", "Food Phone", "Food Email",
			"Volunteer Contact", "Volunteer Phone", "Volunteer Email",
			"Security Contact", "Security Phone", "Security Email", "Notes"})
		for _, pc := range list {
			_ = w.Write([]string{pc.CongregationName, deref(pc.CongregationNumber),
				deref(pc.FoodContactName), deref(pc.FoodContactPhone), deref(pc.FoodContactEmail),
				deref(pc.VolunteerContactName), deref(pc.VolunteerContactPhone), deref(pc.VolunteerContactEmail),
				deref(pc.SecurityContactName), deref(pc.SecurityContactPhone), deref(pc.SecurityContactEmail),
				deref(pc.Notes)})
		}
		w.Flush()
	}
}
