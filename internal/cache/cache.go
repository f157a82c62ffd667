// Package cache holds derived read-optimized views: resolution results and
// per-branch/per-project summaries. Entries are never the source of truth;
// resolve with force_refresh always bypasses this layer.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL map with prefix-based invalidation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Get returns the cached value when present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have renewed it.
		if cur, still := c.entries[key]; still && !cur.expiresAt.IsZero() && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores a value. A zero ttl means no expiry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: expires}
	c.mu.Unlock()
}

// InvalidatePattern evicts every key with the given prefix and returns the
// eviction count.
func (c *Cache) InvalidatePattern(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of live entries (expired entries count until purged).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PurgeExpired drops expired entries; the background refresher calls this on
// its own schedule.
func (c *Cache) PurgeExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
