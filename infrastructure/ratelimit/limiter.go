// Package ratelimit implements per-provider sliding-window admission
// control with burst protection and an error-rate cool-down.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/apexsports/apexfeed/domain/provider"
	"github.com/apexsports/apexfeed/domain/telemetry"
	"github.com/apexsports/apexfeed/infrastructure/logging"
)

// Windows tracked per provider.
const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayWindow    = 24 * time.Hour

	// errorWindow is the horizon of the error-rate estimate.
	errorWindow = 5 * time.Minute
	// errorRateThreshold self-blocks a provider above this error rate.
	errorRateThreshold = 0.5
	// errorMinSamples is the minimum sample count before self-blocking.
	errorMinSamples = 10
	// selfBlockDuration is the cool-down applied on a self-block. This is
	// a second, coarser safety valve independent of the circuit breaker:
	// the breaker trips on consecutive failures, this trips on the error
	// rate across the last five minutes.
	selfBlockDuration = 5 * time.Minute

	// responseSamples bounds the rolling response-time history.
	responseSamples = 100
)

// Denial reasons reported in Decision.Reason.
const (
	ReasonBlocked = "self_blocked"
	ReasonBurst   = "burst_limit"
	ReasonMinute  = "minute_limit"
	ReasonHour    = "hour_limit"
	ReasonDay     = "day_limit"
	ReasonUnknown = "unknown_provider"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Wait is how long until the request would be admitted. Always >= 0
	// and rounded up to the next millisecond so callers sleeping for it
	// land past the window boundary.
	Wait time.Duration
	// Reason names the limit that denied the request.
	Reason string
}

// ProviderStats is a snapshot of a provider's observed behavior.
type ProviderStats struct {
	// Requests is the number of requests in the current day window.
	Requests int
	// AvgResponseTime is the rolling average over the last samples.
	AvgResponseTime time.Duration
	// ErrorRate is the failure fraction over the error window.
	ErrorRate float64
	// BlockedUntil is the self-block deadline, zero when not blocked.
	BlockedUntil time.Time
}

type outcome struct {
	at     time.Time
	failed bool
}

// window is the ephemeral, process-local state of one provider. It is
// rebuilt from zero on restart and never persisted.
type window struct {
	stamps    []time.Time
	burst     []time.Time
	responses []time.Duration
	outcomes  []outcome

	blockedUntil time.Time
}

// Limiter is the sliding-window rate limiter. All methods are safe for
// concurrent use; the purge-then-decide sequence runs under one lock so
// concurrent callers cannot over-admit.
type Limiter struct {
	mu       sync.Mutex
	registry *provider.Registry
	windows  map[provider.ID]*window
	now      func() time.Time

	denied  telemetry.Counter
	blocked telemetry.Counter
}

// Option configures the limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithMeter wires an observability meter.
func WithMeter(m telemetry.Meter) Option {
	return func(l *Limiter) {
		l.denied = m.Counter("apexfeed.admission.denied",
			telemetry.WithDescription("admission checks denied by the rate limiter"))
		l.blocked = m.Counter("apexfeed.provider.self_blocked",
			telemetry.WithDescription("providers self-blocked on error rate"))
	}
}

// New creates a limiter for the providers in the registry.
func New(registry *provider.Registry, opts ...Option) *Limiter {
	l := &Limiter{
		registry: registry,
		windows:  make(map[provider.ID]*window, registry.Len()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit decides whether a request against the provider may proceed. An
// admitted request reserves a slot in the minute/hour/day windows
// immediately, so concurrent callers see each other's admissions; the
// burst window counts only completed requests recorded via Record.
func (l *Limiter) Admit(p provider.ID) Decision {
	cfg, ok := l.registry.Get(p)
	if !ok {
		return Decision{Allowed: false, Reason: ReasonUnknown}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(p)
	w.purge(now, cfg.BurstWindow)

	if now.Before(w.blockedUntil) {
		return Decision{Allowed: false, Wait: ceilWait(w.blockedUntil.Sub(now)), Reason: ReasonBlocked}
	}

	if len(w.burst) >= cfg.BurstLimit {
		exit := w.burst[0].Add(cfg.BurstWindow)
		return Decision{Allowed: false, Wait: ceilWait(exit.Sub(now)), Reason: ReasonBurst}
	}

	if d, denied := w.checkWindow(now, minuteWindow, cfg.RequestsPerMinute, ReasonMinute); denied {
		return d
	}
	if d, denied := w.checkWindow(now, hourWindow, cfg.RequestsPerHour, ReasonHour); denied {
		return d
	}
	if d, denied := w.checkWindow(now, dayWindow, cfg.RequestsPerDay, ReasonDay); denied {
		return d
	}

	w.stamps = append(w.stamps, now)
	return Decision{Allowed: true}
}

// Record registers a completed request: its timestamp enters the burst
// window, its duration the rolling response-time history, and its outcome
// the error-rate window. A provider whose error rate exceeds the threshold
// with enough samples is self-blocked for a fixed cool-down.
func (l *Limiter) Record(p provider.ID, responseTime time.Duration, isError bool) {
	cfg, ok := l.registry.Get(p)
	if !ok {
		return
	}

	l.mu.Lock()
	now := l.now()
	w := l.window(p)
	w.purge(now, cfg.BurstWindow)

	w.burst = append(w.burst, now)
	w.responses = append(w.responses, responseTime)
	if len(w.responses) > responseSamples {
		w.responses = w.responses[len(w.responses)-responseSamples:]
	}
	w.outcomes = append(w.outcomes, outcome{at: now, failed: isError})

	rate, samples := w.errorRate()
	selfBlock := samples >= errorMinSamples && rate > errorRateThreshold && !now.Before(w.blockedUntil)
	if selfBlock {
		w.blockedUntil = now.Add(selfBlockDuration)
	}
	l.mu.Unlock()

	if selfBlock {
		logging.Warn().
			Add(logging.Provider(string(p))).
			Add(logging.Reason("error_rate")).
			Add(logging.WaitTime(selfBlockDuration)).
			Msg("provider self-blocked")
		if l.blocked != nil {
			l.blocked.Add(context.Background(), 1, telemetry.String("provider", string(p)))
		}
	}
}

// Stats returns a snapshot of the provider's observed behavior.
func (l *Limiter) Stats(p provider.ID) ProviderStats {
	cfg, ok := l.registry.Get(p)
	if !ok {
		return ProviderStats{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.window(p)
	w.purge(now, cfg.BurstWindow)

	var avg time.Duration
	if len(w.responses) > 0 {
		var total time.Duration
		for _, d := range w.responses {
			total += d
		}
		avg = total / time.Duration(len(w.responses))
	}

	rate, _ := w.errorRate()
	stats := ProviderStats{
		Requests:        len(w.stamps),
		AvgResponseTime: avg,
		ErrorRate:       rate,
	}
	if now.Before(w.blockedUntil) {
		stats.BlockedUntil = w.blockedUntil
	}
	return stats
}

// RecordDenial emits the denial counter. Called by the orchestrator so
// denials on its path are observable.
func (l *Limiter) RecordDenial(p provider.ID, reason string) {
	if l.denied != nil {
		l.denied.Add(context.Background(), 1,
			telemetry.String("provider", string(p)),
			telemetry.String("reason", reason))
	}
}

// window returns (creating if needed) the state for a provider.
// Must be called with the lock held.
func (l *Limiter) window(p provider.ID) *window {
	w, ok := l.windows[p]
	if !ok {
		w = &window{}
		l.windows[p] = w
	}
	return w
}

// purge drops timestamps that have left their windows.
func (w *window) purge(now time.Time, burstWindow time.Duration) {
	w.stamps = trimBefore(w.stamps, now.Add(-dayWindow))
	w.burst = trimBefore(w.burst, now.Add(-burstWindow))

	cut := now.Add(-errorWindow)
	i := 0
	for i < len(w.outcomes) && w.outcomes[i].at.Before(cut) {
		i++
	}
	w.outcomes = w.outcomes[i:]
}

// checkWindow denies when the request would exceed limit within the window.
func (w *window) checkWindow(now time.Time, span time.Duration, limit int, reason string) (Decision, bool) {
	cut := now.Add(-span)
	inWindow := w.stamps[firstAfter(w.stamps, cut):]
	if len(inWindow) < limit {
		return Decision{}, false
	}
	exit := inWindow[0].Add(span)
	return Decision{Allowed: false, Wait: ceilWait(exit.Sub(now)), Reason: reason}, true
}

// errorRate returns the failure fraction and sample count in the error window.
func (w *window) errorRate() (float64, int) {
	if len(w.outcomes) == 0 {
		return 0, 0
	}
	failed := 0
	for _, o := range w.outcomes {
		if o.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(w.outcomes)), len(w.outcomes)
}

// trimBefore drops leading timestamps that have left the window. A stamp
// exactly at the cut has expired, so a caller sleeping until the advertised
// exit time is admitted.
func trimBefore(stamps []time.Time, cut time.Time) []time.Time {
	return stamps[firstAfter(stamps, cut):]
}

// firstAfter returns the index of the first timestamp strictly after cut.
func firstAfter(stamps []time.Time, cut time.Time) int {
	i := 0
	for i < len(stamps) && !stamps[i].After(cut) {
		i++
	}
	return i
}

// ceilWait clamps a wait to >= 0 and rounds it up to the next millisecond
// so a caller sleeping for it does not wake just under the boundary.
func ceilWait(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	rounded := d.Truncate(time.Millisecond)
	if rounded < d {
		rounded += time.Millisecond
	}
	return rounded
}
