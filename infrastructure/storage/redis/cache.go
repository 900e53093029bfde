// Package redis provides the Redis-backed persistent cache tier.
package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apexsports/apexfeed/domain/cache"
)

// deleteBatch is the key batch size for bulk deletes.
const deleteBatch = 100

// Cache is a Redis-backed implementation of cache.ScopedCache. Each entry's
// key is added to per-sport and per-data-type index sets so scope
// invalidation does not scan the whole keyspace. Index members for entries
// that have since expired are harmless: deleting an absent key is a no-op.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewCache creates a new Redis cache tier with the given configuration.
func NewCache(cfg Config, opts ...ConfigOption) (*Cache, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(cache.ErrConnectionFailed, err)
	}

	return &Cache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// NewCacheFromClient creates a cache tier from an existing Redis client.
func NewCacheFromClient(client *redis.Client, keyPrefix string) *Cache {
	return &Cache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// prefixKey adds the key prefix.
func (c *Cache) prefixKey(key string) string {
	return c.keyPrefix + "cache:" + key
}

// sportIndexKey is the index set of keys tagged with a sport.
func (c *Cache) sportIndexKey(sport string) string {
	return c.keyPrefix + "scope:sport:" + sport
}

// dataTypeIndexKey is the index set of keys tagged with a data type.
func (c *Cache) dataTypeIndexKey(dataType string) string {
	return c.keyPrefix + "scope:datatype:" + dataType
}

// Get retrieves a value from the cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	result, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, c.wrapError(err)
	}

	c.hits.Add(1)
	return result, true, nil
}

// Set stores a value and indexes it under its scope tags.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if key == "" {
		return cache.ErrInvalidKey
	}

	var expiration time.Duration
	if opts.TTL > 0 {
		expiration = opts.TTL
	}

	prefixed := c.prefixKey(key)

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, prefixed, value, expiration)
	if opts.Scope.Sport != "" {
		pipe.SAdd(ctx, c.sportIndexKey(opts.Scope.Sport), prefixed)
	}
	if opts.Scope.DataType != "" {
		pipe.SAdd(ctx, c.dataTypeIndexKey(opts.Scope.DataType), prefixed)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return c.wrapError(err)
	}

	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.client.Del(ctx, c.prefixKey(key)).Err(); err != nil {
		return c.wrapError(err)
	}

	return nil
}

// DeleteByScope removes all entries indexed under the filter's sport or
// data type, along with the index sets themselves.
func (c *Cache) DeleteByScope(ctx context.Context, filter cache.Scope) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var removed int64
	if filter.Sport != "" {
		n, err := c.deleteIndexed(ctx, c.sportIndexKey(filter.Sport))
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if filter.DataType != "" {
		n, err := c.deleteIndexed(ctx, c.dataTypeIndexKey(filter.DataType))
		if err != nil {
			return removed, err
		}
		removed += n
	}

	return removed, nil
}

// deleteIndexed deletes every key in an index set, then the set.
func (c *Cache) deleteIndexed(ctx context.Context, indexKey string) (int64, error) {
	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, c.wrapError(err)
	}

	var removed int64
	for start := 0; start < len(members); start += deleteBatch {
		end := min(start+deleteBatch, len(members))
		n, err := c.client.Del(ctx, members[start:end]...).Result()
		if err != nil {
			return removed, c.wrapError(err)
		}
		removed += n
	}

	if err := c.client.Del(ctx, indexKey).Err(); err != nil {
		return removed, c.wrapError(err)
	}

	return removed, nil
}

// Clear removes all entries with the cache prefix.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// SCAN both the cache keys and the scope index sets.
	pattern := c.keyPrefix + "*"
	iter := c.client.Scan(ctx, 0, pattern, deleteBatch).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= deleteBatch {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return c.wrapError(err)
			}
			keys = keys[:0]
		}
	}

	if err := iter.Err(); err != nil {
		return c.wrapError(err)
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return c.wrapError(err)
		}
	}

	return nil
}

// Stats returns tier statistics.
func (c *Cache) Stats() cache.Stats {
	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		// Size is not tracked for Redis
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// wrapError wraps Redis errors with domain errors.
func (c *Cache) wrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(cache.ErrOperationTimeout, err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(cache.ErrOperationTimeout, err)
	}

	return err
}

// Ensure Cache implements the tier interfaces
var (
	_ cache.ScopedCache   = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
)
