package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values the runtime cannot work
// with. All problems are collected and reported together.
func (c *Config) Validate() error {
	var issues []string

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		issues = append(issues, fmt.Sprintf("logging.format: unknown format %q", c.Logging.Format))
	}

	if c.Cache.MemoryMaxEntries <= 0 {
		issues = append(issues, "cache.memory_max_entries: must be positive")
	}
	switch c.Cache.Persistent {
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			issues = append(issues, "cache.sqlite_path: required for sqlite backend")
		}
	case "redis":
		if c.Cache.RedisAddress == "" {
			issues = append(issues, "cache.redis_address: required for redis backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("cache.persistent: unknown backend %q", c.Cache.Persistent))
	}

	if c.Fetch.MaxConcurrent <= 0 {
		issues = append(issues, "fetch.max_concurrent: must be positive")
	}
	if c.Fetch.GlobalRate <= 0 {
		issues = append(issues, "fetch.global_rate: must be positive")
	}
	if c.Fetch.GlobalBurst <= 0 {
		issues = append(issues, "fetch.global_burst: must be positive")
	}

	if c.Schedule.TeamsMinutes < 0 || c.Schedule.GamesMinutes < 0 || c.Schedule.OddsMinutes < 0 {
		issues = append(issues, "schedule: intervals must not be negative")
	}
	if c.Schedule.Provider != "" {
		if _, ok := c.Providers[c.Schedule.Provider]; !ok {
			issues = append(issues, fmt.Sprintf("schedule.provider: %q is not a configured provider", c.Schedule.Provider))
		}
	}

	for name, p := range c.Providers {
		if name == "" {
			issues = append(issues, "providers: empty provider name")
			continue
		}
		if p.RequestsPerMinute < 0 || p.RequestsPerHour < 0 || p.RequestsPerDay < 0 {
			issues = append(issues, fmt.Sprintf("providers.%s: rate limits must not be negative", name))
		}
		if p.BackoffMultiplier != 0 && p.BackoffMultiplier < 1 {
			issues = append(issues, fmt.Sprintf("providers.%s: backoff_multiplier must be at least 1", name))
		}
		if p.MaxDelayMs != 0 && p.MaxDelayMs < p.BaseDelayMs {
			issues = append(issues, fmt.Sprintf("providers.%s: max_delay_ms below base_delay_ms", name))
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(issues, "; "))
	}
	return nil
}
