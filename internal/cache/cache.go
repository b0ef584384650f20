// Package cache holds precomputed read models (trade-team overview, volunteer stats, role
// catalog). Values are stored as JSON so the in-memory and Redis backends behave the same.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// Item describes one cached entry for the admin cache listing
type Item struct {
	Key        string `json:"key"`
	Size       int64  `json:"size"`
	TTLSeconds int64  `json:"ttl"`
	Hits       int64  `json:"hits"`
}

// Cache is a keyed JSON value store with per-entry expiry.
type Cache interface {
	// Get decodes the value under key into dest and reports whether it was present
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Clear removes every entry whose key starts with prefix and returns how many were removed
	Clear(ctx context.Context, prefix string) (int, error)
	Items(ctx context.Context) ([]Item, error)
	Ping(ctx context.Context) error
	Backend() string
}

// Well-known keys. Group-scoped keys append the construction group id.
const (
	KeyTradeTeamOverview = "trade-teams:overview:"
	KeyVolunteerStats    = "volunteers:stats:"
	KeyRoleCatalog       = "roles:catalog"
)

// ScopedKey appends a construction group scope to a key prefix. nil means all groups.
func ScopedKey(prefix string, cgID *string) string {
	if cgID == nil {
		return prefix + "all"
	}
	return prefix + *cgID
}

// GetOrLoad returns the cached value under key, or calls load and caches its result.
// Cache errors are logged and fall through to load.
func GetOrLoad[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var out T
	if c != nil {
		found, err := c.Get(ctx, key, &out)
		if err != nil {
			slog.Warn("cache read failed", "key", key, "error", err)
		}
		if found && err == nil {
			return out, nil
		}
	}

	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	if c != nil {
		if err := c.Set(ctx, key, out, ttl); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return out, nil
}

func encode(value interface{}) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return raw, nil
}

func countOp(op string) {
	telemetry.CacheOperationsTotal.WithLabelValues(op).Inc()
}
