package access

import (
	"context"

	"github.com/felixgeelhaar/fortify/bulkhead"
	fortifylimit "github.com/felixgeelhaar/fortify/ratelimit"
	"golang.org/x/sync/singleflight"

	"github.com/apexsports/apexfeed/domain/cache"
	"github.com/apexsports/apexfeed/domain/provider"
	"github.com/apexsports/apexfeed/domain/telemetry"
	"github.com/apexsports/apexfeed/infrastructure/logging"
	"github.com/apexsports/apexfeed/infrastructure/observability"
	"github.com/apexsports/apexfeed/infrastructure/ratelimit"
	"github.com/apexsports/apexfeed/infrastructure/resilience"
	"github.com/apexsports/apexfeed/infrastructure/storage/tiered"
)

// globalKey is the shared bucket key for the process-wide limiter.
const globalKey = "global"

// Layer wires the cache tiers and the per-provider protection stack
// behind one read path. The per-provider state (breaker, retrier, rate
// windows) is keyed by the registry and fixed at construction.
type Layer struct {
	registry *provider.Registry
	cache    *tiered.Cache
	limiter  *ratelimit.Limiter

	global   fortifylimit.RateLimiter
	bulkhead bulkhead.Bulkhead[[]byte]

	breakers map[provider.ID]*resilience.CircuitBreaker[[]byte]
	retriers map[provider.ID]*resilience.Retrier[[]byte]

	group singleflight.Group

	requests  telemetry.Counter
	fallbacks telemetry.Counter
	fetchTime telemetry.Histogram
}

// Option configures the layer.
type Option func(*options)

type options struct {
	meter         telemetry.Meter
	globalRate    int
	globalBurst   int
	maxConcurrent int
}

// WithMeter sets the telemetry meter.
func WithMeter(m telemetry.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithGlobalLimit enables the process-wide token bucket shared by all
// providers, on top of the per-provider windows.
func WithGlobalLimit(rate, burst int) Option {
	return func(o *options) {
		o.globalRate = rate
		o.globalBurst = burst
	}
}

// WithMaxConcurrent bounds concurrent upstream fetches across all
// providers.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		o.maxConcurrent = n
	}
}

// New creates the access layer over a validated registry, a tiered cache,
// and a sliding-window limiter.
func New(registry *provider.Registry, cache *tiered.Cache, limiter *ratelimit.Limiter, opts ...Option) *Layer {
	o := &options{meter: observability.NewNoopMeter()}
	for _, opt := range opts {
		opt(o)
	}

	l := &Layer{
		registry: registry,
		cache:    cache,
		limiter:  limiter,
		breakers: make(map[provider.ID]*resilience.CircuitBreaker[[]byte], registry.Len()),
		retriers: make(map[provider.ID]*resilience.Retrier[[]byte], registry.Len()),
	}

	for _, id := range registry.IDs() {
		cfg, _ := registry.Get(id)
		l.breakers[id] = resilience.NewCircuitBreaker[[]byte](resilience.BreakerConfig{
			FailureThreshold:  cfg.FailureThreshold,
			RecoveryTimeout:   cfg.RecoveryTimeout,
			HalfOpenSuccesses: cfg.HalfOpenSuccesses,
			OnStateChange:     stateChangeLogger(id),
		})
		l.retriers[id] = resilience.NewRetrier[[]byte](resilience.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseDelay,
			MaxDelay:   cfg.MaxDelay,
			Multiplier: cfg.BackoffMultiplier,
		})
	}

	if o.globalRate > 0 {
		l.global = fortifylimit.New(&fortifylimit.Config{
			Rate:  o.globalRate,
			Burst: o.globalBurst,
		})
	}
	if o.maxConcurrent > 0 {
		l.bulkhead = bulkhead.New[[]byte](bulkhead.Config{
			MaxConcurrent: o.maxConcurrent,
		})
	}

	l.requests = o.meter.Counter("apexfeed.requests",
		telemetry.WithDescription("Requests by resolution status"))
	l.fallbacks = o.meter.Counter("apexfeed.fallbacks",
		telemetry.WithDescription("Fallback provider substitutions"))
	l.fetchTime = o.meter.Histogram("apexfeed.fetch.duration",
		telemetry.WithDescription("Upstream fetch duration"),
		telemetry.WithUnit("ms"))

	return l
}

// BreakerState returns the circuit state for a provider, for stats and
// tests. Unknown providers report closed.
func (l *Layer) BreakerState(p provider.ID) resilience.State {
	cb, ok := l.breakers[p]
	if !ok {
		return resilience.StateClosed
	}
	return cb.State()
}

// LimiterStats returns the rate-limit window snapshot for a provider.
func (l *Layer) LimiterStats(p provider.ID) ratelimit.ProviderStats {
	return l.limiter.Stats(p)
}

// CacheStats returns the combined cache snapshot.
func (l *Layer) CacheStats() tiered.Stats {
	return l.cache.Stats()
}

// Invalidate removes one key from both cache tiers so the next request
// refetches it.
func (l *Layer) Invalidate(ctx context.Context, key string) error {
	return l.cache.Delete(ctx, key)
}

// InvalidateScope removes all entries matching the filter from both tiers
// and returns how many the memory tier dropped.
func (l *Layer) InvalidateScope(ctx context.Context, filter cache.Scope) (int64, error) {
	return l.cache.ClearScope(ctx, filter)
}

// Close releases cache tier resources.
func (l *Layer) Close() error {
	return l.cache.Close()
}

// stateChangeLogger logs circuit transitions for one provider.
func stateChangeLogger(p provider.ID) func(from, to resilience.State) {
	return func(from, to resilience.State) {
		logging.Warn().
			Add(logging.Provider(string(p))).
			Add(logging.FromState(from.String())).
			Add(logging.ToState(to.String())).
			Msg("circuit state changed")
	}
}
