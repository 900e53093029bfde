package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrMigrationFailed is returned when the cache schema cannot be created.
var ErrMigrationFailed = errors.New("sqlite cache migration failed")

// Config configures the SQLite cache tier.
type Config struct {
	// Path is the database file path. ":memory:" creates an in-memory
	// database.
	Path string

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// AutoMigrate creates the schema on startup.
	AutoMigrate bool

	// BusyTimeout is the SQLite busy handler timeout.
	BusyTimeout time.Duration

	// MaxOpenConns limits the connection pool.
	MaxOpenConns int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		AutoMigrate:  true,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// Option configures the cache.
type Option func(*Config)

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithAutoMigrate enables or disables schema creation on startup.
func WithAutoMigrate(enabled bool) Option {
	return func(c *Config) {
		c.AutoMigrate = enabled
	}
}

// openDB opens the database with the configured pragmas.
func openDB(cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite cache: empty database path")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return db, nil
}
