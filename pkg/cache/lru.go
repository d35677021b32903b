// Package cache provides a small in-memory LRU cache used to hold resolved
// effective views between ledger mutations.
package cache

import (
	"sync"
	"time"
)

// entry holds a cached value with its expiry and last access time.
type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
	usedAt    time.Time
}

// LRUCache is a thread-safe cache with optional TTL and max-size eviction.
// When the cache is full the least recently used entry is evicted. Expired
// entries are removed lazily on Get.
type LRUCache[V any] struct {
	mu      sync.Mutex
	items   map[string]*entry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits   uint64
	misses uint64
}

// NewLRUCache creates a cache holding at most maxSize entries. A ttl <= 0
// disables expiry; entries then live until evicted or invalidated.
func NewLRUCache[V any](maxSize int, ttl time.Duration) *LRUCache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache[V]{
		items:   make(map[string]*entry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key. The second return value is false when the
// key is missing or expired.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	now := c.now()
	if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
		delete(c.items, key)
		c.misses++
		return zero, false
	}
	e.usedAt = now
	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry if the
// cache is full.
func (c *LRUCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := &entry[V]{value: value, usedAt: now}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}

	if _, ok := c.items[key]; !ok && len(c.items) >= c.maxSize {
		c.evictLeastRecentlyUsed()
	}
	c.items[key] = e
}

// Invalidate removes a single key.
func (c *LRUCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidateAll removes every entry.
func (c *LRUCache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V], c.maxSize)
}

// Size returns the number of entries, including expired ones not yet
// collected.
func (c *LRUCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the hit and miss counters.
func (c *LRUCache[V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// evictLeastRecentlyUsed must be called with c.mu held.
func (c *LRUCache[V]) evictLeastRecentlyUsed() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.items {
		if first || e.usedAt.Before(oldest) {
			oldestKey = k
			oldest = e.usedAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
