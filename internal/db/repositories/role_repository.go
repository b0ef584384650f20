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

const roleColumns = `id, code, name, category, level, permissions, description, is_active, created_at, updated_at`

// RoleRepository handles the role catalog
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// ListRoles returns roles ordered by category then level descending
func (r *RoleRepository) ListRoles(ctx context.Context, category string, activeOnly bool) ([]*models.Role, error) {
	f := &filter{}
	if category != "" {
		f.add("category = ?", category)
	}
	if activeOnly {
		f.add("is_active = ?", true)
	}
	out := make([]*models.Role, 0)
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+roleColumns+` FROM roles`+f.where()+` ORDER BY category, level DESC, name`, f.args...)
	return out, err
}

// GetRole retrieves a role by ID using ext, which may be a transaction
func (r *RoleRepository) GetRole(ctx context.Context, ext sqlx.QueryerContext, id string) (*models.Role, error) {
	return getRole(ctx, ext, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

// GetRoleByCode retrieves a role by its catalog code
func (r *RoleRepository) GetRoleByCode(ctx context.Context, ext sqlx.QueryerContext, code string) (*models.Role, error) {
	return getRole(ctx, ext, `SELECT `+roleColumns+` FROM roles WHERE code = $1`, code)
}

func getRole(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.Role, error) {
	role := &models.Role{}
	err := sqlx.GetContext(ctx, q, role, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

// CreateRole inserts a catalog entry
func (r *RoleRepository) CreateRole(ctx context.Context, role *models.Role) error {
	role.ID = uuid.New().String()
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	if len(role.Permissions) == 0 {
		role.Permissions = models.JSON(`[]`)
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO roles (id, code, name, category, level, permissions, description, is_active, created_at, updated_at)
		VALUES (:id, :code, :name, :category, :level, :permissions, :description, :is_active, :created_at, :updated_at)
	`, role)
	if isUnique(err, "") {
		return ErrDuplicateName
	}
	return err
}

// UpdateRole saves name, level, permissions, description and active flag
func (r *RoleRepository) UpdateRole(ctx context.Context, role *models.Role) error {
	role.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE roles
		SET name = :name, level = :level, permissions = :permissions, description = :description,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, role)
	return err
}
