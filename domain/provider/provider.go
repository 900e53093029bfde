// Package provider defines upstream data providers, their per-provider
// limits, and the registry that validates them at startup.
package provider

import (
	"context"
	"time"
)

// ID identifies an upstream provider.
type ID string

// FetchFunc fetches a raw payload from an upstream provider. The provider
// ID is passed so a single call site can dispatch to the right adapter when
// the access layer substitutes a fallback provider.
type FetchFunc func(ctx context.Context, p ID) ([]byte, error)

// Config holds the per-provider tuning knobs. All values are loaded from
// configuration at startup; none are global constants.
type Config struct {
	// Name is the provider identifier.
	Name ID

	// RequestsPerMinute, RequestsPerHour and RequestsPerDay cap the
	// sliding-window request rates.
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int

	// BurstLimit caps completed requests within BurstWindow.
	BurstLimit  int
	BurstWindow time.Duration

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// FailureThreshold is the number of consecutive failures that opens
	// the circuit; RecoveryTimeout is how long it stays open before a
	// half-open trial; HalfOpenSuccesses is the number of consecutive
	// successes that close it again.
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenSuccesses int

	// FetchTimeout bounds a single upstream call.
	FetchTimeout time.Duration

	// Fallbacks is the ordered chain of alternate providers.
	Fallbacks []ID
}

// DefaultConfig returns a conservative configuration for a provider
// without official rate-limit documentation.
func DefaultConfig(name ID) Config {
	return Config{
		Name:              name,
		RequestsPerMinute: 10,
		RequestsPerHour:   300,
		RequestsPerDay:    5000,
		BurstLimit:        3,
		BurstWindow:       10 * time.Second,
		MaxRetries:        3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		HalfOpenSuccesses: 3,
		FetchTimeout:      10 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Name)
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = def.RequestsPerMinute
	}
	if c.RequestsPerHour <= 0 {
		c.RequestsPerHour = def.RequestsPerHour
	}
	if c.RequestsPerDay <= 0 {
		c.RequestsPerDay = def.RequestsPerDay
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = def.BurstLimit
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = def.BurstWindow
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = def.HalfOpenSuccesses
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	return c
}
