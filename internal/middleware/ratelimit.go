// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning 429
// with Retry-After and X-RateLimit-* headers when a client exceeds its limit. Limits are
// kept in process by default, or in Redis so every replica shares one bucket per client.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// RateLimitConfig holds configuration for one limiter
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate
	RequestsPerMinute int
	// BurstSize is the bucket capacity
	BurstSize int
	// CleanupInterval is how often idle in-memory entries are dropped
	CleanupInterval time.Duration
}

// RateLimitResult is the outcome of one Allow call
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request under key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (RateLimitResult, error)
}

// ---------------------------------------------------------------------------
// In-memory token bucket
// ---------------------------------------------------------------------------

type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements a token bucket per key in process memory
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
	now     func() time.Time
}

// NewRateLimiter creates a new in-memory rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *RateLimiter) perSecond() float64 {
	return float64(rl.config.RequestsPerMinute) / 60.0
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(_ context.Context, key string) (RateLimitResult, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	burst := float64(rl.config.BurstSize)
	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateLimitEntry{tokens: burst, lastUpdate: now}
		rl.entries[key] = entry
	} else {
		entry.tokens = math.Min(burst, entry.tokens+now.Sub(entry.lastUpdate).Seconds()*rl.perSecond())
		entry.lastUpdate = now
	}

	res := RateLimitResult{Limit: rl.config.RequestsPerMinute}
	if entry.tokens >= 1 {
		entry.tokens--
		res.Allowed = true
		res.Remaining = int(entry.tokens)
		return res, nil
	}
	if ps := rl.perSecond(); ps > 0 {
		res.RetryAfter = time.Duration((1 - entry.tokens) / ps * float64(time.Second))
	} else {
		res.RetryAfter = time.Minute
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Redis (GCRA via redis_rate)
// ---------------------------------------------------------------------------

// RedisRateLimiter shares limits across replicas through Redis
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisRateLimiter creates a limiter named name (used in the key) on rdb.
func NewRedisRateLimiter(rdb redis.UniversalClient, prefix, name string, config RateLimitConfig) *RedisRateLimiter {
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.Limit{Rate: config.RequestsPerMinute, Burst: burst, Period: time.Minute},
		prefix:  prefix + "ratelimit:" + name + ":",
	}
}

// Allow consults Redis for key.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (RateLimitResult, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return RateLimitResult{}, err
	}
	return RateLimitResult{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// RateLimitMiddleware limits requests per client. name labels the 429 metric (api, auth).
// A limiter backend error lets the request through.
func RateLimitMiddleware(name string, limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), getRateLimitKey(c))
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "limiter", name, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			telemetry.RateLimitedRequestsTotal.WithLabelValues(name).Inc()
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}

// getRateLimitKey prefers the authenticated user over the client IP
func getRateLimitKey(c *gin.Context) string {
	if id := c.GetString(ctxUserID); id != "" {
		return "user:" + id
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
