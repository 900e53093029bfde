// Package sqlite provides the SQLite-backed persistent cache tier.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/apexsports/apexfeed/domain/cache"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Cache is a SQLite-backed implementation of cache.ScopedCache. Scope tags
// are stored in dedicated columns so bulk invalidation is a single DELETE.
type Cache struct {
	db        *sql.DB
	keyPrefix string
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewCache creates a new SQLite cache tier with the given configuration.
func NewCache(cfg Config, opts ...Option) (*Cache, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		db:        db,
		keyPrefix: cfg.KeyPrefix,
	}

	if cfg.AutoMigrate {
		if err := c.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return c, nil
}

// NewCacheFromDB creates a cache tier from an existing database connection.
func NewCacheFromDB(db *sql.DB, keyPrefix string) (*Cache, error) {
	c := &Cache{
		db:        db,
		keyPrefix: keyPrefix,
	}

	if err := c.migrate(); err != nil {
		return nil, err
	}

	return c, nil
}

// migrate creates the cache table if it doesn't exist.
func (c *Cache) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS data_cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			sport TEXT NOT NULL DEFAULT '',
			data_type TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 1,
			expires_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_data_cache_expires_at ON data_cache(expires_at);
		CREATE INDEX IF NOT EXISTS idx_data_cache_sport ON data_cache(sport);
		CREATE INDEX IF NOT EXISTS idx_data_cache_data_type ON data_cache(data_type);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}

	return nil
}

// prefixKey adds the key prefix.
func (c *Cache) prefixKey(key string) string {
	return c.keyPrefix + key
}

// Get retrieves a value. Expired rows are deleted on read.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	prefixedKey := c.prefixKey(key)
	now := time.Now().Unix()

	var value []byte
	var expiresAt sql.NullInt64

	err := c.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM data_cache WHERE key = ?",
		prefixedKey,
	).Scan(&value, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if expiresAt.Valid && expiresAt.Int64 <= now {
		_, _ = c.db.ExecContext(ctx, "DELETE FROM data_cache WHERE key = ?", prefixedKey)
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	return value, true, nil
}

// Set stores a value with its scope tags.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if key == "" {
		return cache.ErrInvalidKey
	}

	prefixedKey := c.prefixKey(key)
	now := time.Now().Unix()

	var expiresAt sql.NullInt64
	if opts.TTL > 0 {
		expiresAt = sql.NullInt64{Int64: time.Now().Add(opts.TTL).Unix(), Valid: true}
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO data_cache (key, value, sport, data_type, priority, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   sport = excluded.sport,
		   data_type = excluded.data_type,
		   priority = excluded.priority,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		prefixedKey, value, opts.Scope.Sport, opts.Scope.DataType, int(opts.Priority), expiresAt, now, now,
	)

	return err
}

// Delete removes a value by key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.db.ExecContext(ctx, "DELETE FROM data_cache WHERE key = ?", c.prefixKey(key))
	return err
}

// DeleteByScope removes all rows whose sport or data type matches the filter.
func (c *Cache) DeleteByScope(ctx context.Context, filter cache.Scope) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if filter.IsZero() {
		return 0, nil
	}

	var result sql.Result
	var err error
	switch {
	case filter.Sport != "" && filter.DataType != "":
		result, err = c.db.ExecContext(ctx,
			"DELETE FROM data_cache WHERE sport = ? OR data_type = ?",
			filter.Sport, filter.DataType)
	case filter.Sport != "":
		result, err = c.db.ExecContext(ctx,
			"DELETE FROM data_cache WHERE sport = ?", filter.Sport)
	default:
		result, err = c.db.ExecContext(ctx,
			"DELETE FROM data_cache WHERE data_type = ?", filter.DataType)
	}
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Clear removes all entries with the cache prefix.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if c.keyPrefix != "" {
		_, err = c.db.ExecContext(ctx, "DELETE FROM data_cache WHERE key LIKE ?", c.keyPrefix+"%")
	} else {
		_, err = c.db.ExecContext(ctx, "DELETE FROM data_cache")
	}
	return err
}

// Cleanup removes expired rows and returns how many were removed.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := time.Now().Unix()
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM data_cache WHERE expires_at IS NOT NULL AND expires_at <= ?",
		now,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Stats returns tier statistics.
func (c *Cache) Stats() cache.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var size int64
	_ = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_cache").Scan(&size)

	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// DB returns the underlying database connection.
func (c *Cache) DB() *sql.DB {
	return c.db
}

// Ensure Cache implements the tier interfaces
var (
	_ cache.ScopedCache   = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
)
