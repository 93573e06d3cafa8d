package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrMeterNil is returned when a metrics constructor receives no meter.
var ErrMeterNil = errors.New("NewBillingMetrics: meter cannot be nil")

// BillingMetrics holds the business instruments of the metering and ledger pipeline.
// All methods are safe on a nil receiver.
type BillingMetrics struct {
	eventsEmitted       *Counter
	eventsFlushed       *Counter
	flushFailures       *Counter
	eventsDeadLettered  *Counter
	walReplayed         *Counter
	ledgerCredits       *Counter
	ledgerDebits        *Counter
	insufficientBalance *Counter
	aggregationWindows  *Counter
	driftRecords        *Gauge
	tenantsSuspended    *Counter
	jobDuration         *Histogram
}

// NewBillingMetrics registers every instrument on the meter.
func NewBillingMetrics(meter metric.Meter) (*BillingMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &BillingMetrics{}
	counters := []struct {
		dst        **Counter
		name, desc string
		unit       string
	}{
		{&m.eventsEmitted, "billing_meter_events_emitted_total", "Meter events accepted into the write-ahead log", "{event}"},
		{&m.eventsFlushed, "billing_meter_events_flushed_total", "Meter events written to the event store", "{event}"},
		{&m.flushFailures, "billing_meter_events_flush_failures_total", "Failed batch insert attempts", "{attempt}"},
		{&m.eventsDeadLettered, "billing_meter_events_dead_lettered_total", "Meter events moved to the dead-letter store", "{event}"},
		{&m.walReplayed, "billing_meter_events_wal_replayed_total", "Meter events recovered from the write-ahead log at startup", "{event}"},
		{&m.ledgerCredits, "billing_ledger_credits_total", "Committed credit transactions", "{transaction}"},
		{&m.ledgerDebits, "billing_ledger_debits_total", "Committed debit transactions", "{transaction}"},
		{&m.insufficientBalance, "billing_ledger_insufficient_balance_total", "Debits rejected for insufficient balance", "{debit}"},
		{&m.aggregationWindows, "billing_aggregation_windows_total", "Usage windows folded into summaries", "{window}"},
		{&m.tenantsSuspended, "billing_jobs_suspended_total", "Tenants suspended for running out of credit", "{tenant}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	m.driftRecords, err = NewGauge(meter, "billing_reconciliation_drift_records",
		"Tenants whose metered charge and ledger debits disagree in the last reconciliation", "{tenant}")
	if err != nil {
		return nil, err
	}
	m.jobDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "billing_job_duration_seconds",
		Description: "Duration of periodic billing job runs",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewNoopBillingMetrics returns instruments backed by the no-op meter.
func NewNoopBillingMetrics() *BillingMetrics {
	m, _ := NewBillingMetrics(noop.NewMeterProvider().Meter("billing"))
	return m
}

// EventsEmitted counts events accepted by Emit.
func (m *BillingMetrics) EventsEmitted(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.eventsEmitted.Add(ctx, int64(n))
}

// EventsFlushed counts events persisted by a flush.
func (m *BillingMetrics) EventsFlushed(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.eventsFlushed.Add(ctx, int64(n))
}

// FlushFailure counts one failed batch insert attempt.
func (m *BillingMetrics) FlushFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.flushFailures.Inc(ctx)
}

// EventsDeadLettered counts events handed to the dead-letter store.
func (m *BillingMetrics) EventsDeadLettered(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.eventsDeadLettered.Add(ctx, int64(n))
}

// WALReplayed counts events recovered at startup.
func (m *BillingMetrics) WALReplayed(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.walReplayed.Add(ctx, int64(n))
}

// LedgerCredit counts a committed credit.
func (m *BillingMetrics) LedgerCredit(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.ledgerCredits.Inc(ctx, AttrTransactionType.String(txType))
}

// LedgerDebit counts a committed debit.
func (m *BillingMetrics) LedgerDebit(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.ledgerDebits.Inc(ctx, AttrTransactionType.String(txType))
}

// InsufficientBalance counts a rejected debit.
func (m *BillingMetrics) InsufficientBalance(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.insufficientBalance.Inc(ctx, AttrTransactionType.String(txType))
}

// AggregationWindow counts one window folded by the aggregator.
func (m *BillingMetrics) AggregationWindow(ctx context.Context) {
	if m == nil {
		return
	}
	m.aggregationWindows.Inc(ctx)
}

// DriftRecords records the drift count of the latest reconciliation.
func (m *BillingMetrics) DriftRecords(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.driftRecords.Record(ctx, int64(n))
}

// TenantSuspended counts a suspension triggered by a job.
func (m *BillingMetrics) TenantSuspended(ctx context.Context, job string) {
	if m == nil {
		return
	}
	m.tenantsSuspended.Inc(ctx, AttrJob.String(job))
}

// JobRun records the duration and outcome of one job run.
func (m *BillingMetrics) JobRun(ctx context.Context, job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.jobDuration.RecordDuration(ctx, d, AttrJob.String(job), AttrOutcome.String(outcome))
}
