package access_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apexsports/apexfeed/application/access"
	"github.com/apexsports/apexfeed/domain/cache"
	"github.com/apexsports/apexfeed/domain/provider"
	"github.com/apexsports/apexfeed/infrastructure/ratelimit"
	"github.com/apexsports/apexfeed/infrastructure/resilience"
	"github.com/apexsports/apexfeed/infrastructure/storage/memory"
	"github.com/apexsports/apexfeed/infrastructure/storage/tiered"
)

type payload struct {
	Value string `json:"value"`
}

func testConfig(name provider.ID, fallbacks ...provider.ID) provider.Config {
	return provider.Config{
		Name:              name,
		RequestsPerMinute: 1000,
		RequestsPerHour:   10000,
		RequestsPerDay:    100000,
		BurstLimit:        1000,
		BurstWindow:       time.Second,
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		BackoffMultiplier: 2.0,
		FailureThreshold:  3,
		RecoveryTimeout:   time.Minute,
		HalfOpenSuccesses: 1,
		FetchTimeout:      time.Second,
		Fallbacks:         fallbacks,
	}
}

func newTestLayer(t *testing.T, configs []provider.Config, opts ...access.Option) *access.Layer {
	t.Helper()

	reg, err := provider.NewRegistry(configs...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	tiers := tiered.New(memory.NewCache(), memory.NewCache())
	limiter := ratelimit.New(reg)
	l := access.New(reg, tiers, limiter, opts...)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// countingFetch returns a FetchFunc serving a fixed payload and counts calls.
func countingFetch(data string, calls *atomic.Int64) provider.FetchFunc {
	return func(ctx context.Context, p provider.ID) ([]byte, error) {
		calls.Add(1)
		return []byte(fmt.Sprintf(`{"value":%q}`, data)), nil
	}
}

func TestGetOrFetch_FetchThenHit(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})
	ctx := context.Background()

	var calls atomic.Int64
	req := access.Request{
		Key:      "basketball:odds",
		Scope:    cache.Scope{Sport: "basketball", DataType: "odds"},
		Provider: "primary",
		TTL:      time.Minute,
		Fetch:    countingFetch("odds-board", &calls),
	}

	res, err := access.GetOrFetch[payload](ctx, l, req)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if res.Status != access.StatusFetched {
		t.Errorf("Status = %v, want StatusFetched", res.Status)
	}
	if res.Provider != "primary" {
		t.Errorf("Provider = %s, want primary", res.Provider)
	}
	if res.Value.Value != "odds-board" {
		t.Errorf("Value = %q, want odds-board", res.Value.Value)
	}

	res, err = access.GetOrFetch[payload](ctx, l, req)
	if err != nil {
		t.Fatalf("second GetOrFetch() error = %v", err)
	}
	if res.Status != access.StatusHit {
		t.Errorf("second Status = %v, want StatusHit", res.Status)
	}
	if res.Value.Value != "odds-board" {
		t.Errorf("second Value = %q, want odds-board", res.Value.Value)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
}

func TestGetOrFetch_DeduplicatesConcurrentCalls(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})

	var calls atomic.Int64
	release := make(chan struct{})
	req := access.Request{
		Key:      "hockey:teams",
		Provider: "primary",
		TTL:      time.Minute,
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			calls.Add(1)
			<-release
			return []byte(`{"value":"rosters"}`), nil
		},
	}

	const waiters = 10
	results := make([]access.Result[payload], waiters)
	errs := make([]error, waiters)

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = access.GetOrFetch[payload](context.Background(), l, req)
		}(i)
	}

	// Let the waiters pile onto the single in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1 for %d concurrent waiters", calls.Load(), waiters)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d error = %v", i, errs[i])
		}
		if results[i].Value.Value != "rosters" {
			t.Errorf("waiter %d value = %q, want rosters", i, results[i].Value.Value)
		}
	}
}

func TestGetOrFetch_WaiterCancellationDoesNotAbortFetch(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})

	release := make(chan struct{})
	var calls atomic.Int64
	req := access.Request{
		Key:      "soccer:games",
		Provider: "primary",
		TTL:      time.Minute,
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			calls.Add(1)
			select {
			case <-release:
				return []byte(`{"value":"fixtures"}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := access.GetOrFetch[payload](ctx, l, req)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter error = %v, want context.Canceled", err)
	}

	// The detached fetch completes and populates the cache.
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		res, err := access.GetOrFetch[payload](context.Background(), l, access.Request{
			Key: "soccer:games", CacheOnly: true,
		})
		if err != nil {
			t.Fatalf("cache-only GetOrFetch() error = %v", err)
		}
		if res.Status == access.StatusHit {
			if res.Value.Value != "fixtures" {
				t.Errorf("Value = %q, want fixtures", res.Value.Value)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandoned fetch never populated the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
}

func TestGetOrFetch_CacheOnlyMiss(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})

	res, err := access.GetOrFetch[payload](context.Background(), l, access.Request{
		Key: "nothing:here", CacheOnly: true,
	})
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if res.Status != access.StatusMiss {
		t.Errorf("Status = %v, want StatusMiss", res.Status)
	}
}

func TestGetOrFetch_RateLimitDenialIsDegraded(t *testing.T) {
	t.Parallel()

	cfg := testConfig("primary")
	cfg.RequestsPerMinute = 1
	l := newTestLayer(t, []provider.Config{cfg})
	ctx := context.Background()

	var calls atomic.Int64
	first := access.Request{
		Key: "a", Provider: "primary", TTL: time.Minute,
		Fetch: countingFetch("one", &calls),
	}
	if _, err := access.GetOrFetch[payload](ctx, l, first); err != nil {
		t.Fatalf("first GetOrFetch() error = %v", err)
	}

	// A different key forces a second admission, which the minute window denies.
	second := access.Request{
		Key: "b", Provider: "primary", TTL: time.Minute,
		Fetch: countingFetch("two", &calls),
	}
	res, err := access.GetOrFetch[payload](ctx, l, second)
	if err != nil {
		t.Fatalf("denied GetOrFetch() error = %v, want nil (degraded)", err)
	}
	if res.Status != access.StatusDenied {
		t.Errorf("Status = %v, want StatusDenied", res.Status)
	}
	if !errors.Is(res.Err, access.ErrRateLimited) {
		t.Errorf("Result.Err = %v, want ErrRateLimited", res.Err)
	}
	if res.Value.Value != "" {
		t.Errorf("Value = %q, want zero value", res.Value.Value)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", calls.Load())
	}
}

func TestGetOrFetch_BreakerOpensAndDegrades(t *testing.T) {
	t.Parallel()

	cfg := testConfig("primary")
	cfg.MaxRetries = 0
	cfg.FailureThreshold = 1
	l := newTestLayer(t, []provider.Config{cfg})
	ctx := context.Background()

	var calls atomic.Int64
	req := access.Request{
		Key: "failing", Provider: "primary", TTL: time.Minute,
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			calls.Add(1)
			return nil, provider.NewStatusError(p, 503, errors.New("down"))
		},
	}

	res, err := access.GetOrFetch[payload](ctx, l, req)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v, want nil (degraded)", err)
	}
	if res.Status != access.StatusExhausted {
		t.Errorf("Status = %v, want StatusExhausted", res.Status)
	}
	if l.BreakerState("primary") != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", l.BreakerState("primary"))
	}

	// With the circuit open the fetch function is not called again.
	req.Key = "failing-2"
	res, err = access.GetOrFetch[payload](ctx, l, req)
	if err != nil {
		t.Fatalf("GetOrFetch() with open breaker error = %v", err)
	}
	if res.Status != access.StatusCircuitOpen {
		t.Errorf("Status = %v, want StatusCircuitOpen", res.Status)
	}
	if !errors.Is(res.Err, resilience.ErrCircuitOpen) {
		t.Errorf("Result.Err = %v, want ErrCircuitOpen", res.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1 (fail-fast)", calls.Load())
	}
}

func TestGetOrFetch_FallbackOnAuthFailure(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{
		testConfig("primary", "secondary"),
		testConfig("secondary"),
	})
	ctx := context.Background()

	var primaryCalls, secondaryCalls atomic.Int64
	req := access.Request{
		Key: "football:odds", Provider: "primary", TTL: time.Minute,
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			if p == "primary" {
				primaryCalls.Add(1)
				return nil, provider.NewStatusError(p, 401, errors.New("key revoked"))
			}
			secondaryCalls.Add(1)
			return []byte(`{"value":"from-secondary"}`), nil
		},
	}

	res, err := access.GetOrFetch[payload](ctx, l, req)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if res.Status != access.StatusFetched {
		t.Errorf("Status = %v, want StatusFetched", res.Status)
	}
	if res.Provider != "secondary" {
		t.Errorf("Provider = %s, want secondary", res.Provider)
	}
	if res.Value.Value != "from-secondary" {
		t.Errorf("Value = %q, want from-secondary", res.Value.Value)
	}
	if primaryCalls.Load() != 1 {
		t.Errorf("primary calls = %d, want 1 (auth failures are not retried)", primaryCalls.Load())
	}
	if secondaryCalls.Load() != 1 {
		t.Errorf("secondary calls = %d, want 1", secondaryCalls.Load())
	}
}

func TestGetOrFetch_AllProvidersExhausted(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{
		testConfig("primary", "secondary"),
		testConfig("secondary"),
	})

	req := access.Request{
		Key: "dead:end", Provider: "primary", TTL: time.Minute,
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			return nil, provider.NewStatusError(p, 403, errors.New("blocked"))
		},
	}

	res, err := access.GetOrFetch[payload](context.Background(), l, req)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v, want nil (degraded)", err)
	}
	if res.Status != access.StatusExhausted {
		t.Errorf("Status = %v, want StatusExhausted", res.Status)
	}
	if !errors.Is(res.Err, access.ErrProvidersExhausted) {
		t.Errorf("Result.Err = %v, want ErrProvidersExhausted", res.Err)
	}
}

func TestGetOrFetch_ValidationErrorSurfaces(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})

	var calls atomic.Int64
	req := access.Request{
		Key: "bad:request", Provider: "primary", TTL: time.Minute,
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			calls.Add(1)
			return nil, provider.NewValidationError(p, errors.New("unknown league"))
		},
	}

	res, err := access.GetOrFetch[payload](context.Background(), l, req)
	if err == nil {
		t.Fatal("GetOrFetch() error = nil, want validation error")
	}
	if res.Status != access.StatusInvalid {
		t.Errorf("Status = %v, want StatusInvalid", res.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1 (validation is not retried)", calls.Load())
	}
}

func TestGetOrFetch_InvalidRequests(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})
	ctx := context.Background()

	if _, err := access.GetOrFetch[payload](ctx, l, access.Request{}); !errors.Is(err, access.ErrInvalidRequest) {
		t.Errorf("empty key error = %v, want ErrInvalidRequest", err)
	}

	req := access.Request{Key: "k", Provider: "primary"}
	if _, err := access.GetOrFetch[payload](ctx, l, req); !errors.Is(err, access.ErrInvalidRequest) {
		t.Errorf("nil fetch error = %v, want ErrInvalidRequest", err)
	}

	req = access.Request{
		Key: "k", Provider: "ghost",
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			return []byte(`{}`), nil
		},
	}
	if _, err := access.GetOrFetch[payload](ctx, l, req); !errors.Is(err, provider.ErrUnknownProvider) {
		t.Errorf("unknown provider error = %v, want ErrUnknownProvider", err)
	}
}

func TestGetOrFetch_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})

	var calls atomic.Int64
	req := access.Request{
		Key: "flaky", Provider: "primary", TTL: time.Minute,
		Fetch: func(ctx context.Context, p provider.ID) ([]byte, error) {
			if calls.Add(1) < 3 {
				return nil, provider.NewStatusError(p, 500, errors.New("hiccup"))
			}
			return []byte(`{"value":"recovered"}`), nil
		},
	}

	res, err := access.GetOrFetch[payload](context.Background(), l, req)
	if err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if res.Status != access.StatusFetched {
		t.Errorf("Status = %v, want StatusFetched", res.Status)
	}
	if res.Value.Value != "recovered" {
		t.Errorf("Value = %q, want recovered", res.Value.Value)
	}
	if calls.Load() != 3 {
		t.Errorf("fetch calls = %d, want 3", calls.Load())
	}
}

func TestGetOrFetch_InvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	l := newTestLayer(t, []provider.Config{testConfig("primary")})
	ctx := context.Background()

	var calls atomic.Int64
	req := access.Request{
		Key: "refresh:me", Provider: "primary", TTL: time.Hour,
		Fetch: countingFetch("fresh", &calls),
	}

	if _, err := access.GetOrFetch[payload](ctx, l, req); err != nil {
		t.Fatalf("GetOrFetch() error = %v", err)
	}
	if err := l.Invalidate(ctx, "refresh:me"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	res, err := access.GetOrFetch[payload](ctx, l, req)
	if err != nil {
		t.Fatalf("GetOrFetch() after invalidation error = %v", err)
	}
	if res.Status != access.StatusFetched {
		t.Errorf("Status = %v, want StatusFetched after invalidation", res.Status)
	}
	if calls.Load() != 2 {
		t.Errorf("fetch calls = %d, want 2", calls.Load())
	}
}
