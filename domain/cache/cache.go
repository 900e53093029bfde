// Package cache provides the domain interfaces for the tiered data cache.
package cache

import (
	"context"
	"time"
)

// Scope classifies a cache entry for bulk invalidation. Either field may
// be empty; an empty field does not participate in matching.
type Scope struct {
	// Sport is the sport the entry belongs to (e.g. "basketball").
	Sport string
	// DataType is the kind of data cached (e.g. "odds", "games").
	DataType string
}

// IsZero reports whether the scope carries no classification.
func (s Scope) IsZero() bool {
	return s.Sport == "" && s.DataType == ""
}

// Matches reports whether an entry tagged with s is selected by the given
// invalidation filter. A filter matches on sport or data type; a zero
// filter matches nothing.
func (s Scope) Matches(filter Scope) bool {
	if filter.Sport != "" && filter.Sport == s.Sport {
		return true
	}
	if filter.DataType != "" && filter.DataType == s.DataType {
		return true
	}
	return false
}

// Priority ranks an entry's importance. It is advisory; tiers may use it
// to bias eviction.
type Priority int

const (
	// PriorityLow marks entries that are cheap to refetch.
	PriorityLow Priority = iota
	// PriorityMedium is the default.
	PriorityMedium
	// PriorityHigh marks entries whose loss is expensive.
	PriorityHigh
)

// SetOptions configures how a value is stored.
type SetOptions struct {
	// TTL is the time-to-live for the entry. Zero means no expiration.
	TTL time.Duration
	// Scope tags the entry for bulk invalidation.
	Scope Scope
	// Priority ranks the entry.
	Priority Priority
}

// Cache is a single cache tier. Implementations may be in-memory, SQLite,
// Redis, or any other backend.
type Cache interface {
	// Get retrieves a cached value by key. An expired entry is treated
	// identically to an absent one.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given key and options.
	Set(ctx context.Context, key string, value []byte, opts SetOptions) error

	// Delete removes a cached entry by key.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error
}

// ScopedCache is a tier that supports bulk invalidation by scope.
type ScopedCache interface {
	Cache

	// DeleteByScope removes all entries whose scope matches the filter
	// and returns how many were removed.
	DeleteByScope(ctx context.Context, filter Scope) (int64, error)
}

// Stats provides tier statistics.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64
	// Misses is the number of cache misses.
	Misses int64
	// Size is the current number of entries.
	Size int64
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int64
	// Evictions is the number of capacity evictions.
	Evictions int64
}

// HitRate returns the fraction of lookups that hit, in [0, 1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsProvider is an optional interface for tiers that track statistics.
type StatsProvider interface {
	// Stats returns current tier statistics.
	Stats() Stats
}
