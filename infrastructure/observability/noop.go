package observability

import (
	"context"

	"github.com/apexsports/apexfeed/domain/telemetry"
)

// NoopMeter is a no-op meter implementation. It is the default when no
// observability sink is wired.
type NoopMeter struct{}

// NewNoopMeter creates a new no-op meter.
func NewNoopMeter() *NoopMeter {
	return &NoopMeter{}
}

// Counter implements telemetry.Meter.
func (m *NoopMeter) Counter(_ string, _ ...telemetry.MetricOption) telemetry.Counter {
	return &noopCounter{}
}

// Histogram implements telemetry.Meter.
func (m *NoopMeter) Histogram(_ string, _ ...telemetry.MetricOption) telemetry.Histogram {
	return &noopHistogram{}
}

var _ telemetry.Meter = (*NoopMeter)(nil)

type noopCounter struct{}

func (c *noopCounter) Add(_ context.Context, _ int64, _ ...telemetry.Attribute) {}

var _ telemetry.Counter = (*noopCounter)(nil)

type noopHistogram struct{}

func (h *noopHistogram) Record(_ context.Context, _ float64, _ ...telemetry.Attribute) {}

var _ telemetry.Histogram = (*noopHistogram)(nil)
