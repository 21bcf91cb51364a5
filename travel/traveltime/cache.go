package traveltime

import (
	"container/list"
	"sync"
	"time"
)

// lruCache is an LRU cache with per-entry TTL. The oracle keeps one
// instance process-wide; a single lock covers lookup, insert, and
// eviction so per-key reads and writes stay atomic.
type lruCache[K comparable, V any] struct {
	cache      map[K]*cacheEntry[K, V]
	order      *list.List
	capacity   int
	defaultTTL time.Duration
	mu         sync.Mutex
}

type cacheEntry[K comparable, V any] struct {
	expiresAt time.Time
	element   *list.Element
	key       K
	value     V
}

func newLRUCache[K comparable, V any](capacity int, defaultTTL time.Duration) *lruCache[K, V] {
	if capacity <= 0 {
		capacity = 100000
	}
	if defaultTTL <= 0 {
		defaultTTL = 7 * 24 * time.Hour
	}
	return &lruCache[K, V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		cache:      make(map[K]*cacheEntry[K, V]),
		order:      list.New(),
	}
}

// get retrieves a value, refreshing its recency. Expired entries are
// dropped on access.
func (c *lruCache[K, V]) get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// set stores a value. A non-positive ttl uses the cache default.
func (c *lruCache[K, V]) set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.cache) >= c.capacity {
		c.evictOldest()
	}

	e := &cacheEntry[K, V]{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	e.element = c.order.PushFront(e)
	c.cache[key] = e
}

func (c *lruCache[K, V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *lruCache[K, V]) contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.cache[key]; ok {
		return !time.Now().After(e.expiresAt)
	}
	return false
}

// cleanupExpired removes all expired entries and returns how many were
// dropped.
func (c *lruCache[K, V]) cleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []*cacheEntry[K, V]
	now := time.Now()
	for _, e := range c.cache {
		if now.After(e.expiresAt) {
			toDelete = append(toDelete, e)
		}
	}
	for _, e := range toDelete {
		c.removeEntry(e)
	}
	return len(toDelete)
}

// entries snapshots the live cache content. Used to flush the
// in-process tier to the shared tier on shutdown.
func (c *lruCache[K, V]) entries() map[K]V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	out := make(map[K]V, len(c.cache))
	for key, e := range c.cache {
		if now.After(e.expiresAt) {
			continue
		}
		out[key] = e.value
	}
	return out
}

// evictOldest removes the least recently used entry. Lock must be held.
func (c *lruCache[K, V]) evictOldest() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	if e, ok := oldest.Value.(*cacheEntry[K, V]); ok {
		c.removeEntry(e)
	}
}

// removeEntry unlinks an entry. Lock must be held.
func (c *lruCache[K, V]) removeEntry(e *cacheEntry[K, V]) {
	c.order.Remove(e.element)
	delete(c.cache, e.key)
}
