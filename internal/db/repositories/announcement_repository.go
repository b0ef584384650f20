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

// AnnouncementRepository handles announcements
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates a new AnnouncementRepository
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

const announcementColumns = `id, title, message, type, start_date, end_date, construction_group_id,
	target_roles, is_active, created_by, created_at, updated_at`

// ListAnnouncements returns every announcement visible to cgID (nil = all), newest first.
// Group-scoped callers also see global announcements.
func (r *AnnouncementRepository) ListAnnouncements(ctx context.Context, cgID *string) ([]*models.Announcement, error) {
	f := &filter{}
	if cgID != nil {
		f.add("(construction_group_id IS NULL OR construction_group_id = ?)", *cgID)
	}
	out := make([]*models.Announcement, 0)
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+announcementColumns+` FROM announcements`+f.where()+` ORDER BY created_at DESC`, f.args...)
	return out, err
}

// ListCurrent returns active announcements in their display window at now for a user in cgID.
// Role targeting is applied by the caller.
func (r *AnnouncementRepository) ListCurrent(ctx context.Context, cgID *string, now time.Time) ([]*models.Announcement, error) {
	f := &filter{}
	f.add("is_active = ?", true)
	f.add("(start_date IS NULL OR start_date <= ?)", now)
	f.add("(end_date IS NULL OR end_date >= ?)", now)
	if cgID != nil {
		f.add("(construction_group_id IS NULL OR construction_group_id = ?)", *cgID)
	} else {
		f.add("construction_group_id IS NULL")
	}
	out := make([]*models.Announcement, 0)
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+announcementColumns+` FROM announcements`+f.where()+` ORDER BY created_at DESC`, f.args...)
	return out, err
}

// GetAnnouncement retrieves an announcement by ID, or nil when it does not exist
func (r *AnnouncementRepository) GetAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	a := &models.Announcement{}
	err := r.db.GetContext(ctx, a, `SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAnnouncement inserts an announcement
func (r *AnnouncementRepository) CreateAnnouncement(ctx context.Context, a *models.Announcement) error {
	a.ID = uuid.New().String()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	if a.TargetRoles == nil {
		a.TargetRoles = []string{}
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO announcements (id, title, message, type, start_date, end_date, construction_group_id,
			target_roles, is_active, created_by, created_at, updated_at)
		VALUES (:id, :title, :message, :type, :start_date, :end_date, :construction_group_id,
			:target_roles, :is_active, :created_by, :created_at, :updated_at)
	`, a)
	return err
}

// UpdateAnnouncement saves every editable column
func (r *AnnouncementRepository) UpdateAnnouncement(ctx context.Context, a *models.Announcement) error {
	a.UpdatedAt = time.Now()
	if a.TargetRoles == nil {
		a.TargetRoles = []string{}
	}
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE announcements SET title = :title, message = :message, type = :type,
			start_date = :start_date, end_date = :end_date, construction_group_id = :construction_group_id,
			target_roles = :target_roles, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, a)
	return err
}

// DeleteAnnouncement removes an announcement and reports whether it existed
func (r *AnnouncementRepository) DeleteAnnouncement(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
