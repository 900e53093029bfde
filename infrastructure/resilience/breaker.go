// Package resilience implements the failure-handling primitives on the
// upstream call path: a per-provider circuit breaker and a classifying
// retry policy with fallback handoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without attempting the call while the
// circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows calls through.
	StateClosed State = iota
	// StateOpen fails calls fast.
	StateOpen
	// StateHalfOpen allows trial calls after the recovery timeout.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig configures a circuit breaker. Thresholds and timeouts are
// per-provider configuration, not global constants.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// call is allowed through as a half-open trial.
	RecoveryTimeout time.Duration

	// HalfOpenSuccesses is the number of consecutive successes while
	// half-open that close the circuit.
	HalfOpenSuccesses int

	// OnStateChange is invoked outside the lock on every transition.
	OnStateChange func(from, to State)

	// Clock overrides the time source. Used in tests.
	Clock func() time.Time
}

// CircuitBreaker fails fast when a provider is unhealthy. State is
// process-local and rebuilt from zero on restart.
type CircuitBreaker[T any] struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureAt       time.Time
}

// NewCircuitBreaker creates a circuit breaker in the closed state.
func NewCircuitBreaker[T any](cfg BreakerConfig) *CircuitBreaker[T] {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &CircuitBreaker[T]{cfg: cfg}
}

// Execute runs fn unless the circuit is open. While open and within the
// recovery timeout it returns ErrCircuitOpen immediately, without calling
// fn; once the timeout elapses the call proceeds as a half-open trial.
func (cb *CircuitBreaker[T]) Execute(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.beforeCall(); err != nil {
		var zero T
		return zero, err
	}

	v, err := fn(ctx)
	cb.afterCall(err == nil)
	return v, err
}

// State returns the current state.
func (cb *CircuitBreaker[T]) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker[T]) beforeCall() error {
	cb.mu.Lock()

	if cb.state == StateOpen {
		now := cb.cfg.Clock()
		elapsed := now.Sub(cb.lastFailureAt)
		if elapsed <= cb.cfg.RecoveryTimeout {
			remaining := cb.cfg.RecoveryTimeout - elapsed
			cb.mu.Unlock()
			return fmt.Errorf("%w: retry in %s", ErrCircuitOpen, remaining.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
	}

	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker[T]) afterCall(success bool) {
	cb.mu.Lock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.consecutiveFailures = 0
		} else {
			cb.consecutiveFailures++
			cb.lastFailureAt = cb.cfg.Clock()
			if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
				cb.transition(StateOpen)
			}
		}
	case StateHalfOpen:
		if success {
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenSuccesses {
				cb.consecutiveFailures = 0
				cb.transition(StateClosed)
			}
		} else {
			cb.lastFailureAt = cb.cfg.Clock()
			cb.transition(StateOpen)
		}
	case StateOpen:
		// A call that was admitted before the circuit opened may land
		// here; a failure refreshes the open window.
		if !success {
			cb.lastFailureAt = cb.cfg.Clock()
		}
	}

	cb.mu.Unlock()
}

// transition moves to a new state and schedules the change hook.
// Must be called with the lock held; the hook runs after unlock.
func (cb *CircuitBreaker[T]) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.halfOpenSuccesses = 0

	if hook := cb.cfg.OnStateChange; hook != nil {
		defer func() { go hook(from, to) }()
	}
}
