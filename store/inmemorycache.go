package store

import (
	"sync"
	"time"

	"github.com/liamcoop/lendermatch/rules"
)

// InMemorySnapshotCache is a SnapshotCache held in process memory.
// Thread-safe for concurrent access.
type InMemorySnapshotCache struct {
	mu       sync.RWMutex
	lenders  []*rules.Lender
	cachedAt time.Time
	config   CacheConfig
	isValid  bool
	gen      uint64
	now      func() time.Time
}

func NewInMemorySnapshotCache(config CacheConfig) *InMemorySnapshotCache {
	return &InMemorySnapshotCache{config: config, now: time.Now}
}

// Get returns deep copies so callers can never alter the cached policy.
func (c *InMemorySnapshotCache) Get() []*rules.Lender {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}
	out := make([]*rules.Lender, len(c.lenders))
	for i, l := range c.lenders {
		out[i] = l.Clone()
	}
	return out
}

func (c *InMemorySnapshotCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.gen
}

func (c *InMemorySnapshotCache) Set(generation uint64, lenders []*rules.Lender) bool {
	stored := make([]*rules.Lender, len(lenders))
	for i, l := range lenders {
		stored[i] = l.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.gen {
		return false
	}
	c.lenders = stored
	c.cachedAt = c.now()
	c.isValid = true
	return true
}

func (c *InMemorySnapshotCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.isValid = false
	c.lenders = nil
}

func (c *InMemorySnapshotCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.fresh()
}

// fresh must be called with mu held.
func (c *InMemorySnapshotCache) fresh() bool {
	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 && c.now().Sub(c.cachedAt) > c.config.TTL {
		return false
	}
	return true
}
