// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"time"

	"github.com/apexsports/apexfeed/domain/provider"
)

// Config errors.
var (
	// ErrConfigNotFound is returned when the config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidFormat is returned for unparseable configuration.
	ErrInvalidFormat = errors.New("invalid config format")

	// ErrUnsupportedFormat is returned for unknown file extensions.
	ErrUnsupportedFormat = errors.New("unsupported config format")

	// ErrMissingEnvVar is returned when a required env var is unset.
	ErrMissingEnvVar = errors.New("missing environment variable")

	// ErrValidationFailed is returned when the configuration is invalid.
	ErrValidationFailed = errors.New("config validation failed")
)

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig             `yaml:"logging" json:"logging"`
	Cache     CacheConfig               `yaml:"cache" json:"cache"`
	Fetch     FetchConfig               `yaml:"fetch" json:"fetch"`
	Schedule  ScheduleConfig            `yaml:"schedule" json:"schedule"`
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// CacheConfig configures the cache tiers.
type CacheConfig struct {
	// MemoryMaxEntries bounds the memory tier.
	MemoryMaxEntries int `yaml:"memory_max_entries" json:"memory_max_entries"`

	// Persistent selects the persistent tier backend: "sqlite" or "redis".
	Persistent string `yaml:"persistent" json:"persistent"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`

	// RedisAddress is the server address for the redis backend.
	RedisAddress string `yaml:"redis_address" json:"redis_address"`

	// RedisPassword is the optional redis auth password.
	RedisPassword string `yaml:"redis_password" json:"redis_password"`

	// RedisDB is the redis database number.
	RedisDB int `yaml:"redis_db" json:"redis_db"`
}

// FetchConfig configures the access layer's process-wide guards.
type FetchConfig struct {
	// MaxConcurrent bounds concurrent upstream fetches.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// GlobalRate is the process-wide token refill rate per interval.
	GlobalRate int `yaml:"global_rate" json:"global_rate"`

	// GlobalBurst is the process-wide token bucket capacity.
	GlobalBurst int `yaml:"global_burst" json:"global_burst"`
}

// ScheduleConfig configures the refresh scheduler. Intervals are in
// minutes; zero disables a job.
type ScheduleConfig struct {
	// Provider is the primary provider the refresh jobs fetch through.
	Provider string `yaml:"provider" json:"provider"`

	// Sports lists the sports to keep warm.
	Sports []string `yaml:"sports" json:"sports"`

	TeamsMinutes int `yaml:"teams_minutes" json:"teams_minutes"`
	GamesMinutes int `yaml:"games_minutes" json:"games_minutes"`
	OddsMinutes  int `yaml:"odds_minutes" json:"odds_minutes"`
}

// ProviderConfig is the per-provider tuning surface. Durations are
// expressed in milliseconds.
type ProviderConfig struct {
	RequestsPerMinute int      `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int      `yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    int      `yaml:"requests_per_day" json:"requests_per_day"`
	BurstLimit        int      `yaml:"burst_limit" json:"burst_limit"`
	BurstWindowMs     int64    `yaml:"burst_window_ms" json:"burst_window_ms"`
	MaxRetries        int      `yaml:"max_retries" json:"max_retries"`
	BaseDelayMs       int64    `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs        int64    `yaml:"max_delay_ms" json:"max_delay_ms"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	FailureThreshold  int      `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeoutMs int64    `yaml:"recovery_timeout_ms" json:"recovery_timeout_ms"`
	HalfOpenSuccesses int      `yaml:"half_open_successes" json:"half_open_successes"`
	FetchTimeoutMs    int64    `yaml:"fetch_timeout_ms" json:"fetch_timeout_ms"`
	Fallbacks         []string `yaml:"fallbacks" json:"fallbacks"`

	// Endpoint is the provider base URL, consumed by the binary's
	// adapter wiring, not by the access layer itself.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Default returns a complete configuration with defaults applied.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Cache: CacheConfig{
			MemoryMaxEntries: 1000,
			Persistent:       "sqlite",
			SQLitePath:       "apexfeed.db",
		},
		Fetch: FetchConfig{
			MaxConcurrent: 10,
			GlobalRate:    100,
			GlobalBurst:   100,
		},
		Schedule: ScheduleConfig{
			TeamsMinutes: 24 * 60,
			GamesMinutes: 60,
			OddsMinutes:  15,
		},
	}
}

// toDomain converts a provider entry to its domain configuration.
func (p ProviderConfig) toDomain(name string) provider.Config {
	return provider.Config{
		Name:              provider.ID(name),
		RequestsPerMinute: p.RequestsPerMinute,
		RequestsPerHour:   p.RequestsPerHour,
		RequestsPerDay:    p.RequestsPerDay,
		BurstLimit:        p.BurstLimit,
		BurstWindow:       time.Duration(p.BurstWindowMs) * time.Millisecond,
		MaxRetries:        p.MaxRetries,
		BaseDelay:         time.Duration(p.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(p.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier: p.BackoffMultiplier,
		FailureThreshold:  p.FailureThreshold,
		RecoveryTimeout:   time.Duration(p.RecoveryTimeoutMs) * time.Millisecond,
		HalfOpenSuccesses: p.HalfOpenSuccesses,
		FetchTimeout:      time.Duration(p.FetchTimeoutMs) * time.Millisecond,
		Fallbacks:         toProviderIDs(p.Fallbacks),
	}
}

// Registry builds the validated provider registry. Unknown fallback names
// and duplicate providers fail here, at startup.
func (c *Config) Registry() (*provider.Registry, error) {
	configs := make([]provider.Config, 0, len(c.Providers))
	for name, p := range c.Providers {
		configs = append(configs, p.toDomain(name))
	}
	return provider.NewRegistry(configs...)
}

func toProviderIDs(names []string) []provider.ID {
	if len(names) == 0 {
		return nil
	}
	ids := make([]provider.ID, len(names))
	for i, n := range names {
		ids[i] = provider.ID(n)
	}
	return ids
}
