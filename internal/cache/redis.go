package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ldc-construction/ldc-tools/internal/config"
)

// NewRedisClient opens a client from config and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// RedisCache stores entries as Redis strings under prefix+"cache:". Hit counts live in a
// hash next to them.
type RedisCache struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisCache creates a RedisCache. keyPrefix namespaces the deployment.
func NewRedisCache(rdb redis.UniversalClient, keyPrefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: keyPrefix + "cache:"}
}

func (c *RedisCache) hitsKey() string { return c.prefix + "__hits" }

// Backend implements Cache
func (c *RedisCache) Backend() string { return "redis" }

// Get implements Cache
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		countOp("miss")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	countOp("hit")
	c.rdb.HIncrBy(ctx, c.hitsKey(), key, 1)
	return true, json.Unmarshal(raw, dest)
}

// Set implements Cache
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.prefix+key, raw, ttl)
	pipe.HDel(ctx, c.hitsKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	countOp("set")
	return nil
}

// Delete implements Cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, full...)
	pipe.HDel(ctx, c.hitsKey(), keys...)
	_, err := pipe.Exec(ctx)
	return err
}

// scan returns every cache key (without the namespace) starting with prefix
func (c *RedisCache) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, c.prefix+prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), c.prefix)
		if k != "__hits" {
			keys = append(keys, k)
		}
	}
	return keys, iter.Err()
}

// Clear implements Cache
func (c *RedisCache) Clear(ctx context.Context, prefix string) (int, error) {
	keys, err := c.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if err := c.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	countOp("clear")
	return len(keys), nil
}

// Items implements Cache
func (c *RedisCache) Items(ctx context.Context) ([]Item, error) {
	keys, err := c.scan(ctx, "")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	pipe := c.rdb.Pipeline()
	lens := make([]*redis.IntCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, k := range keys {
		lens[i] = pipe.StrLen(ctx, c.prefix+k)
		ttls[i] = pipe.TTL(ctx, c.prefix+k)
	}
	hits := pipe.HGetAll(ctx, c.hitsKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	hitMap := hits.Val()
	items := make([]Item, 0, len(keys))
	for i, k := range keys {
		it := Item{Key: k, Size: lens[i].Val(), TTLSeconds: -1}
		if ttl := ttls[i].Val(); ttl > 0 {
			it.TTLSeconds = int64(ttl.Seconds())
		}
		it.Hits, _ = strconv.ParseInt(hitMap[k], 10, 64)
		items = append(items, it)
	}
	return items, nil
}

// Ping implements Cache
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
