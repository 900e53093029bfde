// Package telemetry provides the observability sink interfaces consumed by
// the data access layer. Implementations live in infrastructure.
package telemetry

import "context"

// Meter creates metric instruments.
type Meter interface {
	// Counter creates a new counter.
	Counter(name string, opts ...MetricOption) Counter

	// Histogram creates a new histogram.
	Histogram(name string, opts ...MetricOption) Histogram
}

// Counter is a monotonically increasing value.
type Counter interface {
	// Add adds a value to the counter.
	Add(ctx context.Context, value int64, attrs ...Attribute)
}

// Histogram records a distribution of values.
type Histogram interface {
	// Record records a value.
	Record(ctx context.Context, value float64, attrs ...Attribute)
}

// Attribute is a key-value pair attached to a metric point.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int creates an integer attribute.
func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// MetricOption configures a metric instrument.
type MetricOption interface {
	ApplyMetric(*MetricConfig)
}

// MetricConfig holds metric configuration.
type MetricConfig struct {
	Description string
	Unit        string
}

// WithDescription sets the metric description.
func WithDescription(desc string) MetricOption {
	return MetricOptionFunc(func(c *MetricConfig) {
		c.Description = desc
	})
}

// WithUnit sets the metric unit.
func WithUnit(unit string) MetricOption {
	return MetricOptionFunc(func(c *MetricConfig) {
		c.Unit = unit
	})
}

// MetricOptionFunc is a function that implements MetricOption.
type MetricOptionFunc func(*MetricConfig)

// ApplyMetric implements MetricOption.
func (f MetricOptionFunc) ApplyMetric(c *MetricConfig) { f(c) }
