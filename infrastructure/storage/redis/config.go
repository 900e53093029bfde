package redis

import "time"

// Config configures the Redis cache tier.
type Config struct {
	// Address is the Redis server address (host:port).
	Address string

	// Password is the optional auth password.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix is prepended to all keys.
	KeyPrefix string

	// MaxRetries is the client-level retry count.
	MaxRetries int

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// ReadTimeout bounds read operations.
	ReadTimeout time.Duration

	// WriteTimeout bounds write operations.
	WriteTimeout time.Duration

	// PoolSize is the connection pool size.
	PoolSize int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(address string) Config {
	return Config{
		Address:      address,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// ConfigOption configures the cache.
type ConfigOption func(*Config)

// WithKeyPrefix sets the key prefix.
func WithKeyPrefix(prefix string) ConfigOption {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithDB sets the Redis database number.
func WithDB(db int) ConfigOption {
	return func(c *Config) {
		c.DB = db
	}
}
