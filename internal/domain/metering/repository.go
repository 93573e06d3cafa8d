package metering

import (
	"context"
	"time"
)

// EventStore persists raw meter events.
type EventStore interface {
	// InsertBatch stores events. Events whose id already exists are skipped.
	InsertBatch(ctx context.Context, events []MeterEvent) error
	Count(ctx context.Context, filter EventFilter) (int64, error)
}

// EventFilter narrows event queries.
type EventFilter struct {
	TenantID    string
	From        time.Time
	To          time.Time
	OnlyPending bool
}

// AggregationStore is the storage side of aggregation.
type AggregationStore interface {
	// OldestPending returns the timestamp of the oldest unaggregated event before cutoff.
	// ok is false when nothing is pending.
	OldestPending(ctx context.Context, before time.Time) (ts time.Time, ok bool, err error)
	// AggregateWindow loads up to limit pending events in the window, upserts their summaries
	// additively and marks them aggregated, all in one unit of work. It returns the number of
	// events folded in, or ErrAggregationConflict when another worker claimed some of them.
	AggregateWindow(ctx context.Context, window Window, limit int) (int, []UsageSummary, error)
}

// SummaryRepository reads aggregated summaries.
type SummaryRepository interface {
	FindByWindow(ctx context.Context, filter SummaryFilter) ([]UsageSummary, error)
	GetAggregatedChargesByWindow(ctx context.Context, start, end time.Time) ([]TenantCharge, error)
}

// SummaryFilter narrows summary reads.
type SummaryFilter struct {
	TenantID string
	From     time.Time
	To       time.Time
	Limit    int
}

// DeadLetter is an event that could not be stored after all retries.
type DeadLetter struct {
	Event    MeterEvent `json:"event"`
	Reason   string     `json:"reason"`
	Attempts int        `json:"attempts"`
	FailedAt time.Time  `json:"failedAt"`
}

// DeadLetterStore is the terminal home of unprocessable events.
type DeadLetterStore interface {
	Put(ctx context.Context, letters []DeadLetter) error
	List(ctx context.Context) ([]DeadLetter, error)
}
