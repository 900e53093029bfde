// Package tiered composes the in-memory tier and a persistent tier into
// one cache with promotion, write-through, and scoped invalidation.
package tiered

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/apexsports/apexfeed/domain/cache"
	"github.com/apexsports/apexfeed/infrastructure/logging"
)

// Stats is a combined snapshot across both tiers.
type Stats struct {
	// Entries is the number of entries in the memory tier.
	Entries int64
	// HitRate is the fraction of lookups served from either tier.
	HitRate float64
	// Evictions is the number of memory-tier capacity evictions.
	Evictions int64
}

// Cache is the two-tier cache. The memory tier is authoritative for
// recent writes; the persistent tier is best-effort and its failures are
// logged and swallowed, never propagated (the tiers are eventually
// consistent by design).
type Cache struct {
	memory     cache.ScopedCache
	persistent cache.ScopedCache

	promoteTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures the tiered cache.
type Option func(*Cache)

// WithPromoteTTL sets the memory-tier TTL applied when a persistent hit
// is promoted. The persistent tier does not report remaining TTL, so the
// promoted copy gets a short fixed one.
func WithPromoteTTL(d time.Duration) Option {
	return func(c *Cache) {
		c.promoteTTL = d
	}
}

// New creates a tiered cache over a memory and a persistent tier.
func New(memory, persistent cache.ScopedCache, opts ...Option) *Cache {
	c := &Cache{
		memory:     memory,
		persistent: persistent,
		promoteTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks the key up in the memory tier first, then the persistent
// tier. A persistent hit is promoted into the memory tier under the given
// scope before being returned.
func (c *Cache) Get(ctx context.Context, key string, scope cache.Scope) ([]byte, bool, error) {
	value, found, err := c.memory.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		c.hits.Add(1)
		return value, true, nil
	}

	value, found, err = c.persistent.Get(ctx, key)
	if err != nil {
		// A persistent-tier failure turns the lookup into a miss; the
		// caller refetches and read-repairs both tiers.
		logging.Warn().
			Add(logging.Tier("persistent")).
			Add(logging.CacheKey(key)).
			Add(logging.ErrorField(err)).
			Msg("persistent tier lookup failed")
		c.misses.Add(1)
		return nil, false, nil
	}
	if !found {
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)

	if err := c.memory.Set(ctx, key, value, cache.SetOptions{TTL: c.promoteTTL, Scope: scope}); err != nil {
		logging.Warn().
			Add(logging.Tier("memory")).
			Add(logging.CacheKey(key)).
			Add(logging.ErrorField(err)).
			Msg("cache promotion failed")
	}

	return value, true, nil
}

// Set writes through both tiers. The memory write is synchronous and its
// error is the caller's; the persistent write is awaited but its failure
// is only logged, since the memory tier already holds the value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := c.memory.Set(ctx, key, value, opts); err != nil {
		return err
	}

	if err := c.persistent.Set(ctx, key, value, opts); err != nil {
		logging.Warn().
			Add(logging.Tier("persistent")).
			Add(logging.CacheKey(key)).
			Add(logging.ErrorField(err)).
			Msg("persistent tier write failed")
	}

	return nil
}

// Delete removes the key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.persistent.Delete(ctx, key); err != nil {
		logging.Warn().
			Add(logging.Tier("persistent")).
			Add(logging.CacheKey(key)).
			Add(logging.ErrorField(err)).
			Msg("persistent tier delete failed")
	}
	return c.memory.Delete(ctx, key)
}

// ClearScope removes matching entries from both tiers and returns how
// many were removed from the memory tier.
func (c *Cache) ClearScope(ctx context.Context, filter cache.Scope) (int64, error) {
	if _, err := c.persistent.DeleteByScope(ctx, filter); err != nil {
		logging.Warn().
			Add(logging.Tier("persistent")).
			Add(logging.Sport(filter.Sport)).
			Add(logging.DataType(filter.DataType)).
			Add(logging.ErrorField(err)).
			Msg("persistent tier scope invalidation failed")
	}

	removed, err := c.memory.DeleteByScope(ctx, filter)
	if err != nil {
		return removed, err
	}

	logging.Debug().
		Add(logging.Sport(filter.Sport)).
		Add(logging.DataType(filter.DataType)).
		Add(logging.Count(removed)).
		Msg("cache scope invalidated")
	return removed, nil
}

// Stats returns a combined snapshot.
func (c *Cache) Stats() Stats {
	stats := Stats{}
	if sp, ok := c.memory.(cache.StatsProvider); ok {
		memStats := sp.Stats()
		stats.Entries = memStats.Size
		stats.Evictions = memStats.Evictions
	}

	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Close closes any tier that holds external resources.
func (c *Cache) Close() error {
	var err error
	if closer, ok := c.persistent.(io.Closer); ok {
		err = closer.Close()
	}
	if closer, ok := c.memory.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
