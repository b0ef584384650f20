package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	hits      int64
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a process-local Cache
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a MemoryCache that drops expired entries every sweep interval.
func NewMemoryCache(sweep time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	if sweep > 0 {
		go c.sweep(sweep)
	}
	return c
}

func (c *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			for k, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// Stop ends the sweep goroutine
func (c *MemoryCache) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

// Backend implements Cache
func (c *MemoryCache) Backend() string { return "memory" }

// Get implements Cache
func (c *MemoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.expired(c.now()) {
		delete(c.entries, key)
		ok = false
	}
	var raw []byte
	if ok {
		e.hits++
		raw = e.value
	}
	c.mu.Unlock()

	if !ok {
		countOp("miss")
		return false, nil
	}
	countOp("hit")
	return true, json.Unmarshal(raw, dest)
}

// Set implements Cache. A ttl of zero keeps the entry until cleared.
func (c *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	e := &memoryEntry{value: raw}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	countOp("set")
	return nil
}

// Delete implements Cache
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	return nil
}

// Clear implements Cache
func (c *MemoryCache) Clear(_ context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	countOp("clear")
	return n, nil
}

// Items implements Cache. Entries are sorted by key.
func (c *MemoryCache) Items(_ context.Context) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	items := make([]Item, 0, len(c.entries))
	for k, e := range c.entries {
		if e.expired(now) {
			continue
		}
		it := Item{Key: k, Size: int64(len(e.value)), TTLSeconds: -1, Hits: e.hits}
		if !e.expiresAt.IsZero() {
			it.TTLSeconds = int64(e.expiresAt.Sub(now).Seconds())
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

// Ping implements Cache
func (c *MemoryCache) Ping(context.Context) error { return nil }
