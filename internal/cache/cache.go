// Package cache provides a small mutex-guarded TTL cache used as the local,
// eventually-consistent mirror of durable enforcement state.
//
// # Architecture boundaries
//
// The cache is owned and injected by the gate — never a package-level
// singleton — so multi-instance backends and deterministic tests stay
// possible.
//
// # What this package must NOT do
//
//   - Perform I/O or talk to Redis.
//   - Import goShield or any sibling internal package.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe expiring map. Entries are invalidated by TTL,
// not explicit deletion; expired entries are dropped opportunistically when
// the map grows past maxEntries.
type TTL[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	maxEntries int

	now func() time.Time // overridable in tests
}

// New builds a TTL cache. maxEntries <= 0 disables the eviction threshold.
func New[V any](maxEntries int) *TTL[V] {
	return &TTL[V]{
		entries:    make(map[string]entry[V]),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the live value for key, if any.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl drops the key.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.entries, key)
		return
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked()
	}

	c.entries[key] = entry[V]{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes key immediately.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the entry count, expired entries included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTL[V]) evictExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// SetClock overrides the time source. Test hook only.
func (c *TTL[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
