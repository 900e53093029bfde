// Package memory provides the in-memory cache tier.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/apexsports/apexfeed/domain/cache"
)

// cacheEntry holds a cached value with its expiry and scope tags.
type cacheEntry struct {
	value     []byte
	scope     cache.Scope
	priority  cache.Priority
	storedAt  time.Time
	expiresAt time.Time
}

// isExpired checks if the entry has expired.
func (e *cacheEntry) isExpired(now time.Time) bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return now.After(e.expiresAt)
}

// Cache is the in-memory tier. Reads check expiry lazily; writes above
// capacity evict the oldest-by-write-time entry. Eviction and expiry are
// indistinguishable to readers.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*cacheEntry
	maxSize   int
	now       func() time.Time
	hits      int64
	misses    int64
	evictions int64
}

// CacheOption configures the cache.
type CacheOption func(*Cache)

// WithMaxSize sets the maximum number of entries.
func WithMaxSize(size int) CacheOption {
	return func(c *Cache) {
		c.maxSize = size
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a new in-memory cache tier.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		maxSize: 1000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value. Expired entries are removed and reported absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	if entry.isExpired(c.now()) {
		delete(c.entries, key)
		c.misses++
		return nil, false, nil
	}

	c.hits++

	// Return a copy to prevent mutation
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Set stores a value. Entries are swapped in whole, never mutated in
// place, so concurrent readers cannot observe a half-written value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if key == "" {
		return cache.ErrInvalidKey
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	now := c.now()
	entry := &cacheEntry{
		value:    valueCopy,
		scope:    opts.Scope,
		priority: opts.Priority,
		storedAt: now,
	}
	if opts.TTL > 0 {
		entry.expiresAt = now.Add(opts.TTL)
	}

	c.entries[key] = entry
	return nil
}

// Delete removes an entry by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// DeleteByScope removes all entries whose scope matches the filter.
func (c *Cache) DeleteByScope(ctx context.Context, filter cache.Scope) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int64
	for key, entry := range c.entries {
		if entry.scope.Matches(filter) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Clear removes all entries.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	return nil
}

// Stats returns tier statistics.
func (c *Cache) Stats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return cache.Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      int64(len(c.entries)),
		MaxSize:   int64(c.maxSize),
		Evictions: c.evictions,
	}
}

// Cleanup removes expired entries and returns how many were removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Size returns the current number of entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldest removes the oldest-by-write-time entry. This approximates
// LRU; the tier is a soft performance cache, not a correctness-critical
// store. Must be called with the lock held.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.storedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.storedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// Ensure Cache implements the tier interfaces
var (
	_ cache.ScopedCache   = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
)
