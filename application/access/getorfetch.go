package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apexsports/apexfeed/domain/cache"
	"github.com/apexsports/apexfeed/domain/provider"
	"github.com/apexsports/apexfeed/domain/telemetry"
	"github.com/apexsports/apexfeed/infrastructure/logging"
	"github.com/apexsports/apexfeed/infrastructure/resilience"
)

// fetchOutcome is the deduplicated upstream result shared by all waiters.
type fetchOutcome struct {
	data []byte
	from provider.ID
}

// GetOrFetch resolves a request through the cache tiers and, on a miss,
// through the protected upstream path. Concurrent calls for the same key
// share one upstream fetch. Degraded outcomes (rate-limit denial, open
// circuits, exhausted fallbacks) return a zero Value with the cause in
// Result.Err and a nil call error.
func GetOrFetch[T any](ctx context.Context, l *Layer, req Request) (Result[T], error) {
	if req.Key == "" {
		err := fmt.Errorf("%w: empty key", ErrInvalidRequest)
		return Result[T]{Status: StatusInvalid, Err: err}, err
	}
	if req.Fetch == nil && !req.CacheOnly {
		err := fmt.Errorf("%w: nil fetch function", ErrInvalidRequest)
		return Result[T]{Status: StatusInvalid, Err: err}, err
	}

	if res, ok := lookupCached[T](ctx, l, req); ok {
		return res, nil
	}

	if req.CacheOnly {
		l.countRequest(ctx, StatusMiss, "")
		return Result[T]{Status: StatusMiss}, nil
	}

	// The leader fetches on a context detached from this caller, so one
	// waiter cancelling does not abort the fetch the others share. Each
	// waiter still honors its own cancellation below.
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(req.Key, func() (any, error) {
		return l.fetch(fetchCtx, req)
	})

	select {
	case <-ctx.Done():
		return Result[T]{Status: StatusMiss, Err: ctx.Err()}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return degradedResult[T](ctx, l, res.Err)
		}
		out := res.Val.(fetchOutcome)
		return decodeFetched[T](ctx, l, out)
	}
}

// lookupCached consults both cache tiers and decodes on a hit. A payload
// that no longer decodes is dropped so the next call refetches it.
func lookupCached[T any](ctx context.Context, l *Layer, req Request) (Result[T], bool) {
	value, found, err := l.cache.Get(ctx, req.Key, req.Scope)
	if err != nil {
		logging.Warn().
			Add(logging.CacheKey(req.Key)).
			Add(logging.ErrorField(err)).
			Msg("cache lookup failed")
		return Result[T]{}, false
	}
	if !found {
		return Result[T]{}, false
	}

	var v T
	if err := json.Unmarshal(value, &v); err != nil {
		logging.Warn().
			Add(logging.CacheKey(req.Key)).
			Add(logging.ErrorField(err)).
			Msg("dropping undecodable cache entry")
		_ = l.cache.Delete(ctx, req.Key)
		return Result[T]{}, false
	}

	l.countRequest(ctx, StatusHit, "")
	return Result[T]{Value: v, Raw: value, Status: StatusHit}, true
}

// decodeFetched decodes the shared fetch outcome for one waiter.
func decodeFetched[T any](ctx context.Context, l *Layer, out fetchOutcome) (Result[T], error) {
	var v T
	if err := json.Unmarshal(out.data, &v); err != nil {
		err = fmt.Errorf("%w: payload does not decode: %w", ErrInvalidRequest, err)
		l.countRequest(ctx, StatusInvalid, out.from)
		return Result[T]{Raw: out.data, Status: StatusInvalid, Provider: out.from, Err: err}, err
	}

	l.countRequest(ctx, StatusFetched, out.from)
	return Result[T]{Value: v, Raw: out.data, Status: StatusFetched, Provider: out.from}, nil
}

// degradedResult maps a fetch failure to its outcome status. Protective
// degradations are not call errors; request and configuration problems are.
func degradedResult[T any](ctx context.Context, l *Layer, err error) (Result[T], error) {
	switch {
	case errors.Is(err, ErrRateLimited):
		l.countRequest(ctx, StatusDenied, "")
		return Result[T]{Status: StatusDenied, Err: err}, nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		l.countRequest(ctx, StatusCircuitOpen, "")
		return Result[T]{Status: StatusCircuitOpen, Err: err}, nil
	case errors.Is(err, provider.ErrUnknownProvider):
		l.countRequest(ctx, StatusInvalid, "")
		return Result[T]{Status: StatusInvalid, Err: err}, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result[T]{Status: StatusMiss, Err: err}, err
	case provider.Classify(err) == provider.ClassValidation:
		l.countRequest(ctx, StatusInvalid, "")
		return Result[T]{Status: StatusInvalid, Err: err}, err
	default:
		l.countRequest(ctx, StatusExhausted, "")
		return Result[T]{Status: StatusExhausted, Err: err}, nil
	}
}

// fetch is the deduplicated upstream path: global admission, then the
// per-provider protection stack, walking the fallback chain when a
// provider is unusable.
func (l *Layer) fetch(ctx context.Context, req Request) (fetchOutcome, error) {
	fetchID := uuid.NewString()

	if l.global != nil && !l.global.Allow(ctx, globalKey) {
		logging.Warn().
			Add(logging.FetchID(fetchID)).
			Add(logging.CacheKey(req.Key)).
			Msg("global rate limit exceeded")
		return fetchOutcome{}, fmt.Errorf("%w: global limit", ErrRateLimited)
	}

	current := req.Provider
	visited := make(map[provider.ID]bool)

	for {
		visited[current] = true

		cfg, ok := l.registry.Get(current)
		if !ok {
			return fetchOutcome{}, fmt.Errorf("%w: %s", provider.ErrUnknownProvider, current)
		}

		decision := l.limiter.Admit(current)
		if !decision.Allowed {
			l.limiter.RecordDenial(current, decision.Reason)
			logging.Warn().
				Add(logging.FetchID(fetchID)).
				Add(logging.Provider(string(current))).
				Add(logging.Reason(decision.Reason)).
				Add(logging.WaitTime(decision.Wait)).
				Msg("request denied by rate limit")
			return fetchOutcome{}, fmt.Errorf("%w: provider %s: %s, retry in %s",
				ErrRateLimited, current, decision.Reason, decision.Wait)
		}

		data, err := l.execute(ctx, req, cfg)
		if err == nil {
			l.writeThrough(ctx, req, data)
			logging.Info().
				Add(logging.FetchID(fetchID)).
				Add(logging.Provider(string(current))).
				Add(logging.CacheKey(req.Key)).
				Msg("fetched from provider")
			return fetchOutcome{data: data, from: current}, nil
		}

		var fbErr *resilience.FallbackError
		if !errors.As(err, &fbErr) && !errors.Is(err, resilience.ErrCircuitOpen) {
			return fetchOutcome{}, err
		}

		next := nextFallback(cfg.Fallbacks, visited)
		if next == "" {
			return fetchOutcome{}, fmt.Errorf("%w: provider %s: %w", ErrProvidersExhausted, current, err)
		}

		l.fallbacks.Add(ctx, 1,
			telemetry.String("from", string(current)),
			telemetry.String("to", string(next)))
		logging.Warn().
			Add(logging.FetchID(fetchID)).
			Add(logging.Provider(string(current))).
			Add(logging.Str("fallback", string(next))).
			Add(logging.ErrorField(err)).
			Msg("switching to fallback provider")
		current = next
	}
}

// execute runs one provider's protection stack: bulkhead, then circuit
// breaker, then retry around the timed attempt.
func (l *Layer) execute(ctx context.Context, req Request, cfg provider.Config) ([]byte, error) {
	p := cfg.Name
	breaker := l.breakers[p]
	retrier := l.retriers[p]

	run := func(ctx context.Context) ([]byte, error) {
		return breaker.Execute(ctx, func(ctx context.Context) ([]byte, error) {
			return retrier.Do(ctx, p, cfg.Fallbacks, func(ctx context.Context) ([]byte, error) {
				return l.attempt(ctx, req, cfg)
			})
		})
	}

	if l.bulkhead != nil {
		return l.bulkhead.Execute(ctx, run)
	}
	return run(ctx)
}

// attempt makes a single timed upstream call and records its outcome in
// the provider's rate windows.
func (l *Layer) attempt(ctx context.Context, req Request, cfg provider.Config) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	data, err := req.Fetch(actx, cfg.Name)
	elapsed := time.Since(start)

	l.limiter.Record(cfg.Name, elapsed, err != nil)
	l.fetchTime.Record(ctx, float64(elapsed.Milliseconds()),
		telemetry.String("provider", string(cfg.Name)))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil && ctx.Err() == nil {
			err = provider.NewTimeoutError(cfg.Name, err)
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, provider.NewValidationError(cfg.Name, errors.New("empty payload"))
	}
	return data, nil
}

// writeThrough stores a fetched payload in both tiers.
func (l *Layer) writeThrough(ctx context.Context, req Request, data []byte) {
	err := l.cache.Set(ctx, req.Key, data, cache.SetOptions{
		TTL:      req.TTL,
		Scope:    req.Scope,
		Priority: req.Priority,
	})
	if err != nil {
		logging.Warn().
			Add(logging.CacheKey(req.Key)).
			Add(logging.ErrorField(err)).
			Msg("cache write failed")
	}
}

// countRequest records one resolved request.
func (l *Layer) countRequest(ctx context.Context, status Status, p provider.ID) {
	attrs := []telemetry.Attribute{telemetry.String("status", status.String())}
	if p != "" {
		attrs = append(attrs, telemetry.String("provider", string(p)))
	}
	l.requests.Add(ctx, 1, attrs...)
}

// nextFallback returns the first configured fallback not yet visited.
func nextFallback(chain []provider.ID, visited map[provider.ID]bool) provider.ID {
	for _, id := range chain {
		if !visited[id] {
			return id
		}
	}
	return ""
}
