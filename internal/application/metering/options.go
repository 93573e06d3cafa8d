// Package metering runs the ingest and aggregation pipelines: events are made durable in
// a write-ahead log, flushed to the event store in batches, and folded into windowed
// usage summaries.
package metering

import (
	"time"

	"github.com/erp/billing/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Option configures an Ingestor or Aggregator.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *telemetry.BillingMetrics
	now     func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the business metrics sink.
func WithMetrics(m *telemetry.BillingMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
