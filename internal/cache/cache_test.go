package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

func newMemory(t *testing.T) (*MemoryCache, *time.Time) {
	t.Helper()
	c := NewMemoryCache(0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	t.Cleanup(c.Stop)
	return c, &now
}

type overview struct {
	Teams int `json:"teams"`
}

func TestMemoryCache_SetGet(t *testing.T) {
	c, _ := newMemory(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", overview{Teams: 4}, time.Minute))
	var got overview
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4, got.Teams)

	found, err = c.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c, now := newMemory(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))

	*now = now.Add(61 * time.Second)
	var v int
	found, _ := c.Get(ctx, "k", &v)
	assert.False(t, found)
}

func TestMemoryCache_ClearPrefixAndItems(t *testing.T) {
	c, _ := newMemory(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, ScopedKey(KeyTradeTeamOverview, nil), 1, time.Minute))
	cg := "cg-1"
	require.NoError(t, c.Set(ctx, ScopedKey(KeyTradeTeamOverview, &cg), 2, time.Minute))
	require.NoError(t, c.Set(ctx, KeyRoleCatalog, 3, 0))

	var v int
	_, _ = c.Get(ctx, KeyRoleCatalog, &v)
	_, _ = c.Get(ctx, KeyRoleCatalog, &v)

	items, err := c.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, KeyRoleCatalog, items[0].Key)
	assert.Equal(t, int64(2), items[0].Hits)
	assert.Equal(t, int64(-1), items[0].TTLSeconds)
	assert.Equal(t, "trade-teams:overview:all", items[1].Key)
	assert.Equal(t, int64(60), items[1].TTLSeconds)

	n, err := c.Clear(ctx, "trade-teams:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetOrLoad(t *testing.T) {
	c, _ := newMemory(t)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (overview, error) {
		calls++
		return overview{Teams: calls}, nil
	}

	first, err := GetOrLoad(ctx, c, "ov", time.Minute, load)
	require.NoError(t, err)
	second, err := GetOrLoad(ctx, c, "ov", time.Minute, load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestGetOrLoad_NilCacheAndLoadError(t *testing.T) {
	ctx := context.Background()
	got, err := GetOrLoad(ctx, nil, "k", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	c, _ := newMemory(t)
	_, err = GetOrLoad(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 0, errors.New("db down") })
	assert.Error(t, err)
	items, _ := c.Items(ctx)
	assert.Empty(t, items, "failed loads are not cached")
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisClient(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
