// Package access is the application-layer orchestrator. It composes the
// cache tiers, the rate limiter, the circuit breakers, and the retry and
// fallback policies into a single read path.
package access

import (
	"errors"
	"time"

	"github.com/apexsports/apexfeed/domain/cache"
	"github.com/apexsports/apexfeed/domain/provider"
)

// Access errors.
var (
	// ErrInvalidRequest is returned for a request that cannot be served.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRateLimited signals that admission was denied by a rate limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrProvidersExhausted signals that the primary provider and its whole
	// fallback chain failed.
	ErrProvidersExhausted = errors.New("all providers exhausted")
)

// Status describes how a request was resolved.
type Status int

const (
	// StatusHit means the value came from a cache tier.
	StatusHit Status = iota
	// StatusFetched means the value came from an upstream provider.
	StatusFetched
	// StatusMiss means a cache-only request found nothing.
	StatusMiss
	// StatusDenied means a rate limit refused admission.
	StatusDenied
	// StatusCircuitOpen means every eligible provider's circuit was open.
	StatusCircuitOpen
	// StatusExhausted means all fetch attempts and fallbacks failed.
	StatusExhausted
	// StatusInvalid means the request or the payload was unusable.
	StatusInvalid
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusFetched:
		return "fetched"
	case StatusMiss:
		return "miss"
	case StatusDenied:
		return "denied"
	case StatusCircuitOpen:
		return "circuit_open"
	case StatusExhausted:
		return "exhausted"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Degraded reports whether the request completed without a value because
// a protective mechanism intervened or every provider failed.
func (s Status) Degraded() bool {
	switch s {
	case StatusDenied, StatusCircuitOpen, StatusExhausted:
		return true
	default:
		return false
	}
}

// Request describes one cache-or-fetch operation.
type Request struct {
	// Key is the cache key.
	Key string

	// Scope tags the cached entry for scoped invalidation.
	Scope cache.Scope

	// Provider is the primary upstream provider.
	Provider provider.ID

	// TTL is the cache lifetime of a fetched value.
	TTL time.Duration

	// Priority orders entries for capacity eviction.
	Priority cache.Priority

	// CacheOnly skips the upstream fetch: a miss returns StatusMiss
	// instead of going to a provider.
	CacheOnly bool

	// Fetch retrieves the raw payload from a provider. It receives the
	// provider ID so fallback substitution reuses the same function.
	Fetch provider.FetchFunc
}

// Result is the outcome of a GetOrFetch call. Degraded outcomes carry the
// zero Value, a degraded Status, and the underlying cause in Err; they are
// not returned as call errors.
type Result[T any] struct {
	// Value is the decoded payload. Zero for degraded outcomes.
	Value T

	// Raw is the cached or fetched payload bytes.
	Raw []byte

	// Status describes how the request was resolved.
	Status Status

	// Provider is the provider that served a fetched value. It may differ
	// from the requested one when a fallback was used.
	Provider provider.ID

	// Err is the underlying cause for degraded outcomes.
	Err error
}
