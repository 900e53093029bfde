package resilience_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/apexsports/apexfeed/infrastructure/resilience"
)

var errUpstream = errors.New("upstream failed")

type breakerClock struct {
	t time.Time
}

func (c *breakerClock) now() time.Time          { return c.t }
func (c *breakerClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold, halfOpen int, recovery time.Duration) (*resilience.CircuitBreaker[string], *breakerClock) {
	clock := &breakerClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	cb := resilience.NewCircuitBreaker[string](resilience.BreakerConfig{
		FailureThreshold:  threshold,
		RecoveryTimeout:   recovery,
		HalfOpenSuccesses: halfOpen,
		Clock:             clock.now,
	})
	return cb, clock
}

func fail(_ context.Context) (string, error) { return "", errUpstream }
func ok(_ context.Context) (string, error)   { return "ok", nil }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(3, 1, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(ctx, fail); !errors.Is(err, errUpstream) {
			t.Fatalf("attempt %d: err = %v, want upstream error", i+1, err)
		}
		if got := cb.State(); got != resilience.StateClosed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, got)
		}
	}

	// A success in between resets the count.
	if _, err := cb.Execute(ctx, ok); err != nil {
		t.Fatalf("success attempt: err = %v", err)
	}
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(ctx, fail)
	}
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("state after threshold failures = %v, want open", got)
	}

	_, err := cb.Execute(ctx, ok)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("call while open: err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(2, 3, 30*time.Second)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, fail)
	_, _ = cb.Execute(ctx, fail)
	if cb.State() != resilience.StateOpen {
		t.Fatal("breaker should be open")
	}

	clock.advance(31 * time.Second)

	// Trial calls run half-open; three successes close the circuit.
	for i := 0; i < 3; i++ {
		if _, err := cb.Execute(ctx, ok); err != nil {
			t.Fatalf("trial %d: err = %v", i+1, err)
		}
		want := resilience.StateHalfOpen
		if i == 2 {
			want = resilience.StateClosed
		}
		if got := cb.State(); got != want {
			t.Fatalf("state after trial %d = %v, want %v", i+1, got, want)
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(2, 3, 30*time.Second)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, fail)
	_, _ = cb.Execute(ctx, fail)
	clock.advance(31 * time.Second)

	if _, err := cb.Execute(ctx, fail); !errors.Is(err, errUpstream) {
		t.Fatalf("trial: err = %v, want upstream error", err)
	}
	if got := cb.State(); got != resilience.StateOpen {
		t.Fatalf("state after failed trial = %v, want open", got)
	}

	// The failed trial restarts the recovery timeout.
	clock.advance(29 * time.Second)
	if _, err := cb.Execute(ctx, ok); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("call before new timeout: err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_OpenErrorNamesWait(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(1, 1, 30*time.Second)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, fail)
	clock.advance(10 * time.Second)

	_, err := cb.Execute(ctx, ok)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if want := "retry in 20s"; !strings.Contains(err.Error(), want) {
		t.Errorf("err = %q, want it to contain %q", err, want)
	}
}

func TestBreaker_StateChangeHook(t *testing.T) {
	t.Parallel()

	clock := &breakerClock{t: time.Now()}
	transitions := make(chan [2]resilience.State, 4)
	cb := resilience.NewCircuitBreaker[string](resilience.BreakerConfig{
		FailureThreshold:  1,
		RecoveryTimeout:   time.Second,
		HalfOpenSuccesses: 1,
		Clock:             clock.now,
		OnStateChange: func(from, to resilience.State) {
			transitions <- [2]resilience.State{from, to}
		},
	})

	_, _ = cb.Execute(context.Background(), fail)

	select {
	case tr := <-transitions:
		if tr[0] != resilience.StateClosed || tr[1] != resilience.StateOpen {
			t.Errorf("transition = %v -> %v, want closed -> open", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("state change hook not called")
	}
}
