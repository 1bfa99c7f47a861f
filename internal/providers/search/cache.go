package search

import (
	"sync"
	"time"
)

// Cache stores result lists keyed by normalized query. Caching happens at
// the chain level, after provider fall-through, so degraded results are
// cached under one TTL too. Entries past their TTL read as absent.
type Cache interface {
	Get(key string) ([]Opportunity, bool)
	Set(key string, records []Opportunity)
}

type memoryEntry struct {
	records    []Opportunity
	capturedAt time.Time
}

// MemoryCache is the default in-process TTL cache.
type MemoryCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]memoryEntry

	now func() time.Time
}

// NewMemoryCache creates a cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock substitutes the time source. Test hook.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns a live entry; expired entries are treated as absent and pruned.
func (c *MemoryCache) Get(key string) ([]Opportunity, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if now.Sub(entry.capturedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.records, true
}

// Set stores a result list stamped with the current time.
func (c *MemoryCache) Set(key string, records []Opportunity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{records: records, capturedAt: c.now()}
}
