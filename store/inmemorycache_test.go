package store

import (
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/lendermatch/rules"
)

// TestSnapshotCacheMissUntilSet verifies an empty cache misses
func TestSnapshotCacheMissUntilSet(t *testing.T) {
	c := NewInMemorySnapshotCache(DefaultCacheConfig())
	if c.Get() != nil || c.IsValid() {
		t.Fatal("new cache should miss")
	}

	c.Set(c.Generation(), []*rules.Lender{})
	if got := c.Get(); got == nil || len(got) != 0 {
		t.Errorf("an empty snapshot is still a hit, got %v", got)
	}
}

// TestSnapshotCacheInvalidate verifies Invalidate forces a miss
func TestSnapshotCacheInvalidate(t *testing.T) {
	c := NewInMemorySnapshotCache(DefaultCacheConfig())
	c.Set(c.Generation(), []*rules.Lender{testLender("falcon")})
	if len(c.Get()) != 1 {
		t.Fatal("expected a hit after Set")
	}

	c.Invalidate()
	if c.Get() != nil || c.IsValid() {
		t.Error("expected a miss after Invalidate")
	}
}

// TestSnapshotCacheRejectsStaleGeneration verifies a load that started before
// an Invalidate is not stored
func TestSnapshotCacheRejectsStaleGeneration(t *testing.T) {
	c := NewInMemorySnapshotCache(DefaultCacheConfig())
	gen := c.Generation()

	c.Invalidate()
	if c.Set(gen, []*rules.Lender{testLender("falcon")}) {
		t.Fatal("Set with a stale generation should report false")
	}
	if c.Get() != nil || c.IsValid() {
		t.Error("stale snapshot must not be cached")
	}

	if !c.Set(c.Generation(), []*rules.Lender{testLender("falcon")}) {
		t.Fatal("Set with the current generation should succeed")
	}
	if len(c.Get()) != 1 {
		t.Error("expected a hit after a current Set")
	}
}

// TestSnapshotCacheTTL verifies snapshots expire
func TestSnapshotCacheTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewInMemorySnapshotCache(CacheConfig{TTL: time.Minute})
	c.now = func() time.Time { return now }

	c.Set(c.Generation(), []*rules.Lender{testLender("falcon")})
	now = now.Add(59 * time.Second)
	if !c.IsValid() {
		t.Fatal("snapshot should be valid inside the TTL")
	}
	now = now.Add(2 * time.Second)
	if c.Get() != nil {
		t.Error("snapshot should expire after the TTL")
	}
}

// TestSnapshotCacheCopies verifies cached lenders are isolated from callers
func TestSnapshotCacheCopies(t *testing.T) {
	c := NewInMemorySnapshotCache(DefaultCacheConfig())
	l := testLender("falcon")
	c.Set(c.Generation(), []*rules.Lender{l})

	l.Name = "changed after set"
	got := c.Get()
	got[0].Programs[0].Rules[0].Value = rules.Int(1)

	again := c.Get()
	if again[0].Name != "Lender falcon" {
		t.Error("cache changed through the pointer passed to Set")
	}
	if !again[0].Programs[0].Rules[0].Value.Equal(rules.Int(700)) {
		t.Error("cache changed through a returned pointer")
	}
}

// TestSnapshotCacheConcurrentAccess verifies the cache is safe under concurrent use
func TestSnapshotCacheConcurrentAccess(t *testing.T) {
	c := NewInMemorySnapshotCache(DefaultCacheConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); c.Set(c.Generation(), []*rules.Lender{testLender("x")}) }()
		go func() { defer wg.Done(); _ = c.Get() }()
		go func() { defer wg.Done(); c.Invalidate() }()
	}
	wg.Wait()
}
