package ops

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limiter bounds how often an operation may run. Allow reports whether one more
// operation fits and, if not, how long to wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// SlidingWindow allows at most max operations per key within any window. Timestamps
// older than the window are pruned on each check. It is safe for concurrent use.
type SlidingWindow struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewSlidingWindow creates an in-memory limiter. max is at least 1.
func NewSlidingWindow(max int, window time.Duration) *SlidingWindow {
	if max < 1 {
		max = 1
	}
	return &SlidingWindow{max: max, window: window, hits: make(map[string][]time.Time), now: time.Now}
}

// Allow implements Limiter.
func (l *SlidingWindow) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.prune(key, now)
	if len(kept) >= l.max {
		return false, kept[0].Add(l.window).Sub(now), nil
	}
	l.hits[key] = append(kept, now)
	return true, 0, nil
}

// Seed records an earlier operation, for example one read back from the audit log.
func (l *SlidingWindow) Seed(key string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits[key] = append(l.prune(key, l.now()), at)
}

func (l *SlidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	ts := l.hits[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = kept
	return kept
}

// RedisLimiter shares the operation limit between operators through Redis.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter creates a limiter of max operations per window. Windows of one minute
// or one hour use the redis_rate presets.
func NewRedisLimiter(rdb redis.UniversalClient, prefix string, max int, window time.Duration) *RedisLimiter {
	var limit redis_rate.Limit
	switch window {
	case time.Minute:
		limit = redis_rate.PerMinute(max)
	case time.Hour:
		limit = redis_rate.PerHour(max)
	default:
		limit = redis_rate.Limit{Rate: max, Burst: max, Period: window}
	}
	return &RedisLimiter{limiter: redis_rate.NewLimiter(rdb), limit: limit, prefix: prefix + "guardian:"}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed > 0, res.RetryAfter, nil
}
