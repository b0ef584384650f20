package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
)

// SettingsRepository reads and writes system_settings rows
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get decodes the value stored under key into dest. It reports false when the key is absent.
func (r *SettingsRepository) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var raw []byte
	err := r.db.GetContext(ctx, &raw, `SELECT value FROM system_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(raw, dest)
}

// Set upserts value under key
func (r *SettingsRepository) Set(ctx context.Context, key string, value interface{}, updatedBy *string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = now()
	`, key, raw, updatedBy)
	return err
}
