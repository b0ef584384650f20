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

const userColumns = `id, email, name, password_hash, role, admin_level, region_id, zone_id,
	construction_group_id, is_active, last_login_at, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UserFilters narrows ListUsers.
type UserFilters struct {
	Search              string
	Role                string
	ConstructionGroupID *string
}

// CreateUser creates a new user
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, admin_level, region_id, zone_id,
			construction_group_id, is_active, created_at, updated_at)
		VALUES (:id, :email, :name, :password_hash, :role, :admin_level, :region_id, :zone_id,
			:construction_group_id, :is_active, :created_at, :updated_at)
	`, user)
	if isUnique(err, "") {
		return ErrDuplicateEmail
	}
	return err
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	user := &models.User{}
	err := r.db.GetContext(ctx, user, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser updates the mutable profile and access fields
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE users
		SET name = :name, role = :role, admin_level = :admin_level, region_id = :region_id,
			zone_id = :zone_id, construction_group_id = :construction_group_id,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id
	`, user)
	return err
}

// SetPassword replaces the password hash
func (r *UserRepository) SetPassword(ctx context.Context, userID, hash string) error {
	return r.SetPasswordIn(ctx, r.db, userID, hash)
}

// SetPasswordIn replaces the password hash using ext, which may be the caller's transaction
func (r *UserRepository) SetPasswordIn(ctx context.Context, ext sqlx.ExtContext, userID, hash string) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
	return err
}

// RecordLogin stamps last_login_at
func (r *UserRepository) RecordLogin(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = now() WHERE id = $1`, userID)
	return err
}

// DeleteUser deletes a user. Linked volunteers are unlinked by the foreign key.
func (r *UserRepository) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	return err
}

// ListUsers retrieves a paginated list of users
func (r *UserRepository) ListUsers(ctx context.Context, filters UserFilters, limit, offset int) ([]*models.User, int, error) {
	f := &filter{}
	if filters.Search != "" {
		f.add("(email ILIKE ? OR name ILIKE ?)", like(filters.Search), like(filters.Search))
	}
	if filters.Role != "" {
		f.add("role = ?", filters.Role)
	}
	if filters.ConstructionGroupID != nil {
		f.add("construction_group_id = ?", *filters.ConstructionGroupID)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`+f.where(), f.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := f.page(limit, offset)
	users := make([]*models.User, 0)
	err := r.db.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users`+f.where()+` ORDER BY created_at DESC`+suffix, args...)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// GetStats aggregates the users table
func (r *UserRepository) GetStats(ctx context.Context) (*models.UserStats, error) {
	stats := &models.UserStats{ByRole: map[string]int{}}
	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE last_login_at > now() - interval '7 days')
		FROM users
	`).Scan(&stats.Total, &stats.Active, &stats.RecentLogins7d)
	if err != nil {
		return nil, err
	}
	stats.Inactive = stats.Total - stats.Active

	rows, err := r.db.QueryxContext(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		stats.ByRole[role] = n
	}
	return stats, rows.Err()
}
