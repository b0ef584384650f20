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

// OrganizationRepository handles regions, zones and construction groups
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository creates a new OrganizationRepository
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// ListRegions returns all regions ordered by code
func (r *OrganizationRepository) ListRegions(ctx context.Context) ([]models.Region, error) {
	regions := make([]models.Region, 0)
	err := r.db.SelectContext(ctx, &regions, `SELECT id, code, name, created_at FROM regions ORDER BY code`)
	return regions, err
}

// ListZones returns zones, optionally for one region
func (r *OrganizationRepository) ListZones(ctx context.Context, regionID string) ([]models.Zone, error) {
	f := &filter{}
	if regionID != "" {
		f.add("region_id = ?", regionID)
	}
	zones := make([]models.Zone, 0)
	err := r.db.SelectContext(ctx, &zones,
		`SELECT id, region_id, code, name, created_at FROM zones`+f.where()+` ORDER BY code`, f.args...)
	return zones, err
}

const cgColumns = `id, code, name, region_id, zone_id, is_active, created_at, updated_at`

// ListConstructionGroups returns construction groups, optionally only active ones
func (r *OrganizationRepository) ListConstructionGroups(ctx context.Context, activeOnly bool) ([]models.ConstructionGroup, error) {
	f := &filter{}
	if activeOnly {
		f.add("is_active = ?", true)
	}
	groups := make([]models.ConstructionGroup, 0)
	err := r.db.SelectContext(ctx, &groups,
		`SELECT `+cgColumns+` FROM construction_groups`+f.where()+` ORDER BY code`, f.args...)
	return groups, err
}

// GetConstructionGroup retrieves a construction group by ID
func (r *OrganizationRepository) GetConstructionGroup(ctx context.Context, id string) (*models.ConstructionGroup, error) {
	cg := &models.ConstructionGroup{}
	err := r.db.GetContext(ctx, cg, `SELECT `+cgColumns+` FROM construction_groups WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cg, nil
}

// CreateConstructionGroup inserts a construction group
func (r *OrganizationRepository) CreateConstructionGroup(ctx context.Context, cg *models.ConstructionGroup) error {
	cg.ID = uuid.New().String()
	cg.CreatedAt = time.Now()
	cg.UpdatedAt = cg.CreatedAt
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO construction_groups (id, code, name, region_id, zone_id, is_active, created_at, updated_at)
		VALUES (:id, :code, :name, :region_id, :zone_id, :is_active, :created_at, :updated_at)
	`, cg)
	if isUnique(err, "") {
		return ErrDuplicateName
	}
	return err
}

// UpdateConstructionGroup saves code, name, region and active flag
func (r *OrganizationRepository) UpdateConstructionGroup(ctx context.Context, cg *models.ConstructionGroup) error {
	cg.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE construction_groups
		SET code = :code, name = :name, region_id = :region_id, zone_id = :zone_id,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, cg)
	if isUnique(err, "") {
		return ErrDuplicateName
	}
	return err
}
