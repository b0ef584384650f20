package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

const congregationColumns = `id, name, number, city, state, coordinator_name, coordinator_phone,
	coordinator_email, construction_group_id, is_active, created_at, updated_at`

// CongregationRepository handles congregations, projects and project congregation assignments
type CongregationRepository struct {
	db *sqlx.DB
}

// NewCongregationRepository creates a new CongregationRepository
func NewCongregationRepository(db *sqlx.DB) *CongregationRepository {
	return &CongregationRepository{db: db}
}

// ListCongregations returns active congregations ordered by name. Search matches name,
// number, state and coordinator case-insensitively.
func (r *CongregationRepository) ListCongregations(ctx context.Context, cgID *string, search string) ([]*models.Congregation, error) {
	f := &filter{}
	f.add("is_active = ?", true)
	if cgID != nil {
		f.add("construction_group_id = ?", *cgID)
	}
	if search != "" {
		s := like(search)
		f.add("(name ILIKE ? OR number ILIKE ? OR state ILIKE ? OR coordinator_name ILIKE ?)", s, s, s, s)
	}
	out := make([]*models.Congregation, 0)
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+congregationColumns+` FROM congregations`+f.where()+` ORDER BY name`, f.args...)
	return out, err
}

// GetCongregation retrieves a congregation by ID
func (r *CongregationRepository) GetCongregation(ctx context.Context, id string) (*models.Congregation, error) {
	c := &models.Congregation{}
	err := r.db.GetContext(ctx, c, `SELECT `+congregationColumns+` FROM congregations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCongregation inserts a congregation
func (r *CongregationRepository) CreateCongregation(ctx context.Context, c *models.Congregation) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	c.IsActive = true
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO congregations (id, name, number, city, state, coordinator_name, coordinator_phone,
			coordinator_email, construction_group_id, is_active, created_at, updated_at)
		VALUES (:id, :name, :number, :city, :state, :coordinator_name, :coordinator_phone,
			:coordinator_email, :construction_group_id, :is_active, :created_at, :updated_at)
	`, c)
	return err
}

// UpdateCongregation saves the mutable columns
func (r *CongregationRepository) UpdateCongregation(ctx context.Context, c *models.Congregation) error {
	c.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE congregations
		SET name = :name, number = :number, city = :city, state = :state,
			coordinator_name = :coordinator_name, coordinator_phone = :coordinator_phone,
			coordinator_email = :coordinator_email, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, c)
	return err
}

// DeactivateCongregation soft-deletes a congregation
func (r *CongregationRepository) DeactivateCongregation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE congregations SET is_active = false, updated_at = now() WHERE id = $1`, id)
	return err
}

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

const projectColumns = `id, name, number, construction_group_id, status, created_at, updated_at`

// ListProjects returns projects ordered by name
func (r *CongregationRepository) ListProjects(ctx context.Context, cgID *string) ([]*models.Project, error) {
	f := &filter{}
	if cgID != nil {
		f.add("construction_group_id = ?", *cgID)
	}
	out := make([]*models.Project, 0)
	err := r.db.SelectContext(ctx, &out, `SELECT `+projectColumns+` FROM projects`+f.where()+` ORDER BY name`, f.args...)
	return out, err
}

// GetProject retrieves a project by ID
func (r *CongregationRepository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p := &models.Project{}
	err := r.db.GetContext(ctx, p, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProject inserts a project
func (r *CongregationRepository) CreateProject(ctx context.Context, p *models.Project) error {
	p.ID = uuid.New().String()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	if p.Status == "" {
		p.Status = "active"
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO projects (id, name, number, construction_group_id, status, created_at, updated_at)
		VALUES (:id, :name, :number, :construction_group_id, :status, :created_at, :updated_at)
	`, p)
	return err
}

// ---------------------------------------------------------------------------
// Project congregation assignments
// ---------------------------------------------------------------------------

const projectCongregationSelect = `
	SELECT pca.id, pca.project_id, pca.congregation_id,
		pca.food_contact_name, pca.food_contact_phone, pca.food_contact_email,
		pca.volunteer_contact_name, pca.volunteer_contact_phone, pca.volunteer_contact_email,
		pca.security_contact_name, pca.security_contact_phone, pca.security_contact_email,
		pca.notes, pca.is_active, pca.created_at, pca.updated_at,
		c.name AS congregation_name, c.number AS congregation_number
	FROM project_congregation_assignments pca
	JOIN congregations c ON c.id = pca.congregation_id`

// ListProjectCongregations returns the active assignments for a project ordered by congregation name
func (r *CongregationRepository) ListProjectCongregations(ctx context.Context, projectID string) ([]*models.ProjectCongregation, error) {
	out := make([]*models.ProjectCongregation, 0)
	err := r.db.SelectContext(ctx, &out,
		projectCongregationSelect+` WHERE pca.project_id = $1 AND pca.is_active ORDER BY c.name`, projectID)
	return out, err
}

// GetProjectCongregation retrieves one assignment scoped to its project
func (r *CongregationRepository) GetProjectCongregation(ctx context.Context, projectID, id string) (*models.ProjectCongregation, error) {
	pc := &models.ProjectCongregation{}
	err := r.db.GetContext(ctx, pc, projectCongregationSelect+` WHERE pca.project_id = $1 AND pca.id = $2`, projectID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// CreateProjectCongregation inserts an assignment. A second active assignment of the same
// congregation to the project returns ErrDuplicateName.
func (r *CongregationRepository) CreateProjectCongregation(ctx context.Context, pc *models.ProjectCongregation) error {
	pc.ID = uuid.New().String()
	pc.CreatedAt = time.Now()
	pc.UpdatedAt = pc.CreatedAt
	pc.IsActive = true
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO project_congregation_assignments (id, project_id, congregation_id,
			food_contact_name, food_contact_phone, food_contact_email,
			volunteer_contact_name, volunteer_contact_phone, volunteer_contact_email,
			security_contact_name, security_contact_phone, security_contact_email,
			notes, is_active, created_at, updated_at)
		VALUES (:id, :project_id, :congregation_id,
			:food_contact_name, :food_contact_phone, :food_contact_email,
			:volunteer_contact_name, :volunteer_contact_phone, :volunteer_contact_email,
			:security_contact_name, :security_contact_phone, :security_contact_email,
			:notes, :is_active, :created_at, :updated_at)
	`, pc)
	if isUnique(err, "project_congregation_active_unique") {
		return ErrDuplicateName
	}
	return err
}

// UpdateProjectCongregation saves contacts and notes
func (r *CongregationRepository) UpdateProjectCongregation(ctx context.Context, pc *models.ProjectCongregation) error {
	pc.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE project_congregation_assignments
		SET food_contact_name = :food_contact_name, food_contact_phone = :food_contact_phone,
			food_contact_email = :food_contact_email, volunteer_contact_name = :volunteer_contact_name,
			volunteer_contact_phone = :volunteer_contact_phone, volunteer_contact_email = :volunteer_contact_email,
			security_contact_name = :security_contact_name, security_contact_phone = :security_contact_phone,
			security_contact_email = :security_contact_email, notes = :notes, updated_at = :updated_at
		WHERE id = :id
	`, pc)
	return err
}

// DeactivateProjectCongregation soft-deletes an assignment
func (r *CongregationRepository) DeactivateProjectCongregation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE project_congregation_assignments SET is_active = false, updated_at = now() WHERE id = $1`, id)
	return err
}
