package store

import (
	"time"

	"github.com/liamcoop/lendermatch/rules"
)

// SnapshotCache holds the active-lender snapshot underwriting runs against,
// so a burst of applications does not reload every policy from storage.
type SnapshotCache interface {
	// Get returns the cached snapshot, or nil on a miss or after expiry.
	Get() []*rules.Lender

	// Generation identifies the current policy version. Read it before
	// loading a snapshot and hand it back to Set.
	Generation() uint64

	// Set stores lenders loaded at generation. It reports false and stores
	// nothing when an Invalidate happened since, so a load that raced a
	// policy edit never replaces newer policy.
	Set(generation uint64, lenders []*rules.Lender) bool

	// Invalidate drops the snapshot and advances the generation; the next
	// Get misses.
	Invalidate()

	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL bounds how long a snapshot is served. Zero means it is only
	// dropped by Invalidate.
	TTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}
