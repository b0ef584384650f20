package directory

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

const (
	maxImportRows = 5000
	maxBulkIDs    = 500
)

// VolunteerHandlers handles the volunteer directory
type VolunteerHandlers struct {
	db          *sqlx.DB
	volunteers  *repositories.VolunteerRepository
	teams       *repositories.TradeTeamRepository
	assignments *repositories.RoleAssignmentRepository
	svc         *services.RoleAssignmentService
	views       *services.ReadModels
	rec         *audit.Recorder
}

// NewVolunteerHandlers creates a new VolunteerHandlers instance
func NewVolunteerHandlers(db *sqlx.DB, svc *services.RoleAssignmentService, views *services.ReadModels, rec *audit.Recorder) *VolunteerHandlers {
	return &VolunteerHandlers{
		db:          db,
		volunteers:  repositories.NewVolunteerRepository(db),
		teams:       repositories.NewTradeTeamRepository(db),
		assignments: repositories.NewRoleAssignmentRepository(db),
		svc:         svc,
		views:       views,
		rec:         rec,
	}
}

// VolunteerRequest is the body of create and update. Absent fields are left unchanged on
// update; an empty trade_team_id or crew_id clears the placement.
type VolunteerRequest struct {
	FirstName           *string  `json:"first_name"`
	LastName            *string  `json:"last_name"`
	BAID                *string  `json:"ba_id"`
	EmailPersonal       *string  `json:"email_personal"`
	EmailJW             *string  `json:"email_jw"`
	Phone               *string  `json:"phone"`
	Congregation        *string  `json:"congregation"`
	CongregationID      *string  `json:"congregation_id"`
	ServingAs           []string `json:"serving_as"`
	Notes               *string  `json:"notes"`
	TradeTeamID         *string  `json:"trade_team_id"`
	CrewID              *string  `json:"crew_id"`
	IsActive            *bool    `json:"is_active"`
	ConstructionGroupID *string  `json:"construction_group_id"`
}

// BulkUpdateRequest is the body of POST /volunteers/bulk-update
type BulkUpdateRequest struct {
	VolunteerIDs []string `json:"volunteer_ids"`
	IsActive     *bool    `json:"is_active"`
	TradeTeamID  *string  `json:"trade_team_id"`
	CrewID       *string  `json:"crew_id"`
}

type volunteerDetail struct {
	*models.Volunteer
	RoleAssignments []*models.RoleAssignment `json:"role_assignments"`
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// apply copies the request onto v. Emails are validated and lower-cased.
func (req *VolunteerRequest) apply(v *models.Volunteer) error {
	if req.FirstName != nil {
		v.FirstName = validation.Text(*req.FirstName)
	}
	if req.LastName != nil {
		v.LastName = validation.Text(*req.LastName)
	}
	if req.BAID != nil {
		v.BAID = validation.TextPtr(req.BAID)
	}
	for _, e := range []struct {
		in  *string
		out **string
	}{{req.EmailPersonal, &v.EmailPersonal}, {req.EmailJW, &v.EmailJW}} {
		if e.in == nil {
			continue
		}
		if strings.TrimSpace(*e.in) == "" {
			*e.out = nil
			continue
		}
		if err := validation.Email(*e.in); err != nil {
			return err
		}
		norm := validation.NormalizeEmail(*e.in)
		*e.out = &norm
	}
	if req.Phone != nil {
		v.Phone = validation.TextPtr(req.Phone)
	}
	if req.Congregation != nil {
		v.Congregation = validation.TextPtr(req.Congregation)
	}
	if req.CongregationID != nil {
		v.CongregationID = emptyToNil(req.CongregationID)
	}
	if req.ServingAs != nil {
		v.ServingAs = pq.StringArray{}
		for _, s := range req.ServingAs {
			if s = validation.Text(s); s != "" {
				v.ServingAs = append(v.ServingAs, s)
			}
		}
	}
	if req.Notes != nil {
		v.Notes = validation.Notes(req.Notes)
	}
	if req.TradeTeamID != nil {
		v.TradeTeamID = emptyToNil(req.TradeTeamID)
	}
	if req.CrewID != nil {
		v.CrewID = emptyToNil(req.CrewID)
	}
	if req.IsActive != nil {
		v.IsActive = *req.IsActive
	}
	return nil
}

// checkPlacement verifies the team is visible to the caller and the crew belongs to it.
// A crew without a team takes the crew's team. It writes 400 and returns false on mismatch.
func (h *VolunteerHandlers) checkPlacement(c *gin.Context, v *models.Volunteer) bool {
	ctx := c.Request.Context()
	if v.CrewID != nil && v.TradeTeamID == nil {
		crew, err := h.teams.GetCrewByID(ctx, *v.CrewID)
		if err != nil {
			respondError(c, err, "Failed to verify crew")
			return false
		}
		if crew == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Crew not found"})
			return false
		}
		v.TradeTeamID = &crew.TradeTeamID
	}
	if v.TradeTeamID == nil {
		return true
	}

	team, err := h.teams.GetTradeTeam(ctx, *v.TradeTeamID)
	if err != nil {
		respondError(c, err, "Failed to verify trade team")
		return false
	}
	if team == nil || !inScope(c, team.ConstructionGroupID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Trade team not found"})
		return false
	}
	if v.CrewID != nil {
		crew, err := h.teams.GetCrew(ctx, team.ID, *v.CrewID)
		if err != nil {
			respondError(c, err, "Failed to verify crew")
			return false
		}
		if crew == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Crew does not belong to the trade team"})
			return false
		}
	}
	return true
}

// load fetches :id and writes 404 when it is missing or outside the caller's group.
func (h *VolunteerHandlers) load(c *gin.Context) (*models.Volunteer, bool) {
	v, err := h.volunteers.GetVolunteer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve volunteer")
		return nil, false
	}
	if v == nil || !inScope(c, v.ConstructionGroupID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Volunteer not found"})
		return nil, false
	}
	return v, true
}

func volunteerFilters(c *gin.Context) (repositories.VolunteerFilters, error) {
	f := repositories.VolunteerFilters{
		ConstructionGroupID: middleware.CGScope(c),
		Search:              strings.TrimSpace(c.Query("search")),
		TradeTeamID:         c.Query("trade_team_id"),
		CrewID:              c.Query("crew_id"),
		Congregation:        strings.TrimSpace(c.Query("congregation")),
	}
	if s := c.Query("is_active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			return f, err
		}
		f.IsActive = &active
	}
	return f, nil
}

// @Summary      List volunteers
// @Tags         Volunteers
// @Security     Bearer
// @Produce      json
// @Param        search         query  string  false  "Name, email or BA ID"
// @Param        trade_team_id  query  string  false  "Trade team ID"
// @Param        crew_id        query  string  false  "Crew ID"
// @Param        congregation   query  string  false  "Congregation name"
// @Param        is_active      query  bool    false  "Active flag"
// @Param        page           query  int     false  "Page number (default 1)"
// @Param        per_page       query  int     false  "Items per page, max 200 (default 50)"
// @Success      200  {object}  map[string]interface{}  "volunteers: []models.Volunteer, pagination: map"
// @Router       /api/v1/volunteers [get]
// ListVolunteersHandler lists volunteers with pagination
// GET /api/v1/volunteers?page=1&per_page=50
func (h *VolunteerHandlers) ListVolunteersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := volunteerFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_active must be true or false"})
			return
		}
		page, perPage, offset := paging(c)

		list, total, err := h.volunteers.ListVolunteers(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			respondError(c, err, "Failed to list volunteers")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"volunteers": list,
			"pagination": gin.H{
				"page":        page,
				"per_page":    perPage,
				"total":       total,
				"total_pages": (total + perPage - 1) / perPage,
			},
		})
	}
}

// @Summary      Get volunteer
// @Tags         Volunteers
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Volunteer ID"
// @Success      200  {object}  volunteerDetail
// @Failure      404  {object}  map[string]interface{}  "Volunteer not found"
// @Router       /api/v1/volunteers/{id} [get]
// GetVolunteerHandler returns a volunteer with their role assignments
// GET /api/v1/volunteers/:id
func (h *VolunteerHandlers) GetVolunteerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := h.load(c)
		if !ok {
			return
		}
		roles, err := h.assignments.ListAssignments(c.Request.Context(),
			repositories.RoleAssignmentFilters{VolunteerID: v.ID})
		if err != nil {
			respondError(c, err, "Failed to list role assignments")
			return
		}
		c.JSON(http.StatusOK, volunteerDetail{Volunteer: v, RoleAssignments: roles})
	}
}

// @Summary      Create volunteer
// @Tags         Volunteers
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  VolunteerRequest  true  "Volunteer"
// @Success      201  {object}  models.Volunteer
// @Failure      400  {object}  map[string]interface{}  "first_name and last_name are required"
// @Router       /api/v1/volunteers [post]
// CreateVolunteerHandler adds a volunteer to the caller's construction group
// POST /api/v1/volunteers
func (h *VolunteerHandlers) CreateVolunteerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VolunteerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		v := &models.Volunteer{IsActive: true, ConstructionGroupID: ownerGroup(c, req.ConstructionGroupID)}
		if err := req.apply(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if v.FirstName == "" || v.LastName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "first_name and last_name are required"})
			return
		}
		if !h.checkPlacement(c, v) {
			return
		}

		if err := h.volunteers.CreateVolunteer(c.Request.Context(), h.db, v); err != nil {
			respondError(c, err, "Failed to create volunteer")
			return
		}
		h.views.InvalidateVolunteers(c.Request.Context())
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusCreated, v)
	}
}

// @Summary      Update volunteer
// @Tags         Volunteers
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string            true  "Volunteer ID"
// @Param        body  body  VolunteerRequest  true  "Fields to change"
// @Success      200  {object}  models.Volunteer
// @Failure      404  {object}  map[string]interface{}  "Volunteer not found"
// @Router       /api/v1/volunteers/{id} [patch]
// UpdateVolunteerHandler applies a partial update
// PATCH /api/v1/volunteers/:id
func (h *VolunteerHandlers) UpdateVolunteerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VolunteerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		v, ok := h.load(c)
		if !ok {
			return
		}
		if err := req.apply(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if v.FirstName == "" || v.LastName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "first_name and last_name cannot be empty"})
			return
		}
		if !h.checkPlacement(c, v) {
			return
		}

		if err := h.volunteers.UpdateVolunteer(c.Request.Context(), v); err != nil {
			respondError(c, err, "Failed to update volunteer")
			return
		}
		h.views.InvalidateVolunteers(c.Request.Context())
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, v)
	}
}

// @Summary      Delete volunteer
// @Description  Removes the volunteer and their role assignments.
// @Tags         Volunteers
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Volunteer ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      404  {object}  map[string]interface{}  "Volunteer not found"
// @Router       /api/v1/volunteers/{id} [delete]
// DeleteVolunteerHandler deletes a volunteer
// DELETE /api/v1/volunteers/:id
func (h *VolunteerHandlers) DeleteVolunteerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := h.load(c)
		if !ok {
			return
		}
		deleted, err := h.volunteers.DeleteVolunteer(c.Request.Context(), v.ID)
		if err != nil {
			respondError(c, err, "Failed to delete volunteer")
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "Volunteer not found"})
			return
		}
		h.views.InvalidateVolunteers(c.Request.Context())
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Volunteer %s deleted", v.FullName())})
	}
}

// @Summary      Bulk update volunteers
// @Description  Sets is_active, trade_team_id and/or crew_id on up to 500 volunteers.
// @Tags         Volunteers
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  BulkUpdateRequest  true  "Volunteer ids and fields"
// @Success      200  {object}  map[string]interface{}  "updated"
// @Router       /api/v1/volunteers/bulk-update [post]
// BulkUpdateHandler updates many volunteers at once
// POST /api/v1/volunteers/bulk-update
func (h *VolunteerHandlers) BulkUpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(req.VolunteerIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "volunteer_ids is required"})
			return
		}
		if len(req.VolunteerIDs) > maxBulkIDs {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("At most %d volunteers per request", maxBulkIDs)})
			return
		}
		if req.IsActive == nil && req.TradeTeamID == nil && req.CrewID == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
			return
		}

		placement := &models.Volunteer{TradeTeamID: emptyToNil(req.TradeTeamID), CrewID: emptyToNil(req.CrewID)}
		if !h.checkPlacement(c, placement) {
			return
		}
		update := repositories.BulkUpdate{IsActive: req.IsActive, TradeTeamID: req.TradeTeamID, CrewID: req.CrewID}
		if req.TradeTeamID == nil && placement.TradeTeamID != nil {
			update.TradeTeamID = placement.TradeTeamID
		}
		if placement.TradeTeamID == nil && req.TradeTeamID != nil && req.CrewID == nil {
			// leaving the team also leaves its crew
			none := ""
			update.CrewID = &none
		}

		n, err := h.volunteers.BulkUpdateVolunteers(c.Request.Context(), req.VolunteerIDs, middleware.CGScope(c), update)
		if err != nil {
			respondError(c, err, "Failed to update volunteers")
			return
		}
		h.views.InvalidateVolunteers(c.Request.Context())
		h.views.InvalidateTeams(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Updated %d volunteers", n), "updated": n})
	}
}

// @Summary      Volunteer statistics
// @Tags         Volunteers
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.VolunteerStats
// @Router       /api/v1/volunteers/stats [get]
// StatsHandler returns totals by team and congregation
// GET /api/v1/volunteers/stats
func (h *VolunteerHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.views.VolunteerStats(c.Request.Context(), middleware.CGScope(c))
		if err != nil {
			respondError(c, err, "Failed to compute volunteer statistics")
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// exportHeader matches the column names ImportHandler reads.
var exportHeader = []string{"First Name", "Last Name", "BA ID", "Email Personal", "Email JW", "Phone",
	"Congregation", "Serving As", "Trade Team", "Trade Crew", "Is Active"}

// @Summary      Export volunteers
// @Description  CSV of the filtered directory, in the import column layout.
// @Tags         Volunteers
// @Security     Bearer
// @Produce      text/csv
// @Success      200  {string}  string  "CSV"
// @Router       /api/v1/volunteers/export [get]
// ExportHandler writes the filtered directory as CSV
// GET /api/v1/volunteers/export
func (h *VolunteerHandlers) ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := volunteerFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "is_active must be true or false"})
			return
		}
		list, err := h.volunteers.ListAllVolunteers(c.Request.Context(), filters)
		if err != nil {
			respondError(c, err, "Failed to export volunteers")
			return
		}

		h.rec.Record(c.Request.Context(), middleware.ActorFromContext(c), audit.Event{
			Action:   models.ActionExport,
			Resource: models.ResourceVolunteer,
			Metadata: map[string]interface{}{"count": len(list)},
		})
		middleware.MarkAudited(c)

		filename := fmt.Sprintf("volunteers-%s.csv", time.Now().Format("2006-01-02"))
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Status(http.StatusOK)

		w := csv.NewWriter(c.Writer)
		_ = w.Write(exportHeader)
		for _, v := range list {
			_ = w.Write([]string{
				v.FirstName, v.LastName, deref(v.BAID), deref(v.EmailPersonal), deref(v.EmailJW),
				deref(v.Phone), deref(v.Congregation), strings.Join(v.ServingAs, ", "),
				deref(v.TradeTeamName), deref(v.CrewName), strconv.FormatBool(v.IsActive),
			})
		}
		w.Flush()
	}
}

// @Summary      Import volunteers
// @Description  Multipart CSV upload (field "file") or JSON {"volunteers": [...]}. Rows are processed independently.
// @Tags         Volunteers
// @Security     Bearer
// @Accept       multipart/form-data
// @Accept       json
// @Produce      json
// @Success      200  {object}  services.ImportResult
// @Failure      400  {object}  map[string]interface{}  "No rows"
// @Router       /api/v1/volunteers/import [post]
// ImportHandler creates volunteers from a CSV file or JSON rows
// POST /api/v1/volunteers/import
func (h *VolunteerHandlers) ImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var rows []services.ImportRow
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			fh, err := c.FormFile("file")
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "A CSV file is required in field \"file\""})
				return
			}
			f, err := fh.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
				return
			}
			defer f.Close()
			rows, err = services.ParseImportCSV(f)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		} else {
			var body struct {
				Volunteers []services.ImportRow `json:"volunteers"`
			}
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
				return
			}
			rows = body.Volunteers
		}

		if len(rows) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No volunteers to import"})
			return
		}
		if len(rows) > maxImportRows {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("At most %d rows per import", maxImportRows)})
			return
		}

		res := h.svc.Import(c.Request.Context(), middleware.ActorFromContext(c), ownerGroup(c, nil), rows)
		if res.Success > 0 {
			h.views.InvalidateVolunteers(c.Request.Context())
			h.views.InvalidateTeams(c.Request.Context())
		}
		c.JSON(http.StatusOK, res)
	}
}
