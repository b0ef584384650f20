// audit_repository.go implements AuditRepository, providing database queries for writing
// and retrieving audit log entries with filtering, export, statistics and retention.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	UserID   string
	Action   string
	Resource string
	Search   string
	DateFrom *time.Time
	DateTo   *time.Time
	// ConstructionGroupID limits results to one group; nil reaches every group
	ConstructionGroupID *string
}

func (af AuditFilters) build() *filter {
	f := &filter{}
	if af.UserID != "" {
		f.add("a.user_id = ?", af.UserID)
	}
	if af.Action != "" {
		f.add("a.action = ?", af.Action)
	}
	if af.Resource != "" {
		f.add("a.resource = ?", af.Resource)
	}
	if af.Search != "" {
		s := like(af.Search)
		f.add("(a.action ILIKE ? OR a.resource ILIKE ? OR a.resource_id ILIKE ?)", s, s, s)
	}
	if af.DateFrom != nil {
		f.add("a.timestamp >= ?", *af.DateFrom)
	}
	if af.DateTo != nil {
		f.add("a.timestamp <= ?", *af.DateTo)
	}
	if af.ConstructionGroupID != nil {
		f.add("a.construction_group_id = ?", *af.ConstructionGroupID)
	}
	return f
}

const auditViewSelect = `
	SELECT a.id, a.user_id, a.action, a.resource, a.resource_id, a.construction_group_id,
		a.old_values, a.new_values, a.metadata, a.ip_address, a.user_agent, a.timestamp,
		u.name AS user_name, u.email AS user_email, u.role AS user_role,
		cg.name AS construction_group_name
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.user_id
	LEFT JOIN construction_groups cg ON cg.id = a.construction_group_id`

// CreateAuditLog writes an entry using ext, which may be the caller's transaction
func (r *AuditRepository) CreateAuditLog(ctx context.Context, ext sqlx.ExtContext, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}
	if ext == nil {
		ext = r.db
	}
	_, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO audit_logs (id, user_id, action, resource, resource_id, construction_group_id,
			old_values, new_values, metadata, ip_address, user_agent, timestamp)
		VALUES (:id, :user_id, :action, :resource, :resource_id, :construction_group_id,
			:old_values, :new_values, :metadata, :ip_address, :user_agent, :timestamp)
	`, log)
	return err
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLogView, int, error) {
	f := filters.build()

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs a`+f.where(), f.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := f.page(limit, offset)
	logs := make([]*models.AuditLogView, 0)
	if err := r.db.SelectContext(ctx, &logs, auditViewSelect+f.where()+` ORDER BY a.timestamp DESC`+suffix, args...); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// ExportAuditLogs returns up to max matching rows, newest first
func (r *AuditRepository) ExportAuditLogs(ctx context.Context, filters AuditFilters, max int) ([]*models.AuditLogView, error) {
	f := filters.build()
	suffix, args := f.page(max, 0)
	logs := make([]*models.AuditLogView, 0)
	err := r.db.SelectContext(ctx, &logs, auditViewSelect+f.where()+` ORDER BY a.timestamp DESC`+suffix, args...)
	return logs, err
}

// GetStats counts entries by action and resource, plus the last 24 hours, for a
// construction group (nil = all)
func (r *AuditRepository) GetStats(ctx context.Context, cgID *string) (*models.AuditStats, error) {
	f := AuditFilters{ConstructionGroupID: cgID}.build()
	from := ` FROM audit_logs a` + f.where()

	stats := &models.AuditStats{ByAction: map[string]int{}, ByResource: map[string]int{}}
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE a.timestamp > now() - interval '24 hours')`+from, f.args...).
		Scan(&stats.Total, &stats.Last24h)
	if err != nil {
		return nil, err
	}
	groups := []struct {
		col  string
		into map[string]int
	}{
		{"action", stats.ByAction},
		{"resource", stats.ByResource},
	}
	for _, g := range groups {
		rows, err := r.db.QueryxContext(ctx, `SELECT a.`+g.col+`, COUNT(*)`+from+` GROUP BY 1`, f.args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var k string
			var n int
			if err := rows.Scan(&k, &n); err != nil {
				rows.Close()
				return nil, err
			}
			g.into[k] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// DeleteOlderThan removes entries older than cutoff and returns how many were deleted
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
