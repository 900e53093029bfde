package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/apexsports/apexfeed/domain/provider"
	"github.com/apexsports/apexfeed/infrastructure/logging"
)

// FallbackError signals that the failed provider should not be retried and
// names the next provider in its configured fallback chain. The access
// orchestrator, not the retry policy, performs the actual substitution so
// failure classification and provider selection stay decoupled.
type FallbackError struct {
	// Provider is the provider that failed.
	Provider provider.ID
	// Next is the suggested fallback; empty when the chain is exhausted.
	Next provider.ID
	// Err is the failure that triggered the handoff.
	Err error
}

// Error implements error.
func (e *FallbackError) Error() string {
	if e.Next == "" {
		return fmt.Sprintf("provider %s failed with no fallback: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("provider %s failed, fallback to %s: %v", e.Provider, e.Next, e.Err)
}

// Unwrap returns the triggering failure.
func (e *FallbackError) Unwrap() error {
	return e.Err
}

// RetryConfig configures a retrier.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff factor.
	Multiplier float64

	// jitterFrac is the maximum random fraction added to a delay. Jitter
	// keeps concurrent callers retrying the same provider from
	// resynchronizing into a thundering herd.
	jitterFrac float64
	// randFloat overrides the jitter source. Used in tests.
	randFloat func() float64
}

// Retrier re-attempts transiently failing operations with exponential
// backoff and jitter, and hands non-retryable failures to the fallback
// chain.
type Retrier[T any] struct {
	cfg RetryConfig
}

// NewRetrier creates a retrier.
func NewRetrier[T any](cfg RetryConfig) *Retrier[T] {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.jitterFrac == 0 {
		cfg.jitterFrac = 0.25
	}
	if cfg.randFloat == nil {
		cfg.randFloat = rand.Float64
	}
	return &Retrier[T]{cfg: cfg}
}

// Do attempts fn against provider p. Retryable failures (server, network,
// timeout, rate-limited) are re-attempted up to MaxRetries with backoff;
// failures eligible for fallback (authentication, forbidden) immediately
// return a FallbackError naming the first provider in fallbacks. All other
// failures return as-is.
func (r *Retrier[T]) Do(ctx context.Context, p provider.ID, fallbacks []provider.ID, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		class := provider.Classify(err)
		if class.FallbackEligible() {
			var next provider.ID
			if len(fallbacks) > 0 {
				next = fallbacks[0]
			}
			return zero, &FallbackError{Provider: p, Next: next, Err: err}
		}
		if !class.Retryable() || attempt >= r.cfg.MaxRetries {
			return zero, err
		}

		delay := r.delayFor(attempt, err)
		logging.Debug().
			Add(logging.Provider(string(p))).
			Add(logging.Attempt(attempt + 1)).
			Add(logging.WaitTime(delay)).
			Add(logging.Reason(class.String())).
			Msg("retrying after failure")

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Delay returns the backoff delay before retry attempt n (0-indexed):
// min(base * multiplier^n + jitter, max).
func (r *Retrier[T]) Delay(attempt int) time.Duration {
	return r.delayFor(attempt, nil)
}

func (r *Retrier[T]) delayFor(attempt int, cause error) time.Duration {
	// An upstream-suggested wait takes precedence over the computed
	// backoff, still bounded by MaxDelay.
	if fe, ok := fetchError(cause); ok && fe.RetryAfter > 0 {
		if fe.RetryAfter > r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
		return fe.RetryAfter
	}

	d := float64(r.cfg.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= r.cfg.Multiplier
	}
	d += d * r.cfg.jitterFrac * r.cfg.randFloat()

	delay := time.Duration(d)
	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	return delay
}

func fetchError(err error) (*provider.FetchError, bool) {
	if err == nil {
		return nil, false
	}
	var fe *provider.FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
