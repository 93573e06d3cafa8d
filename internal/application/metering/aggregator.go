package metering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erp/billing/internal/domain/metering"
	"go.uber.org/zap"
)

// AggregatorConfig holds aggregation settings.
type AggregatorConfig struct {
	Interval   time.Duration
	WindowSize time.Duration
	// Grace delays aggregation of a closed window so late events can still land in it.
	Grace            time.Duration
	MaxWindowsPerRun int
	BatchLimit       int
}

// DefaultAggregatorConfig returns default configuration
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Interval:         time.Minute,
		WindowSize:       time.Hour,
		Grace:            30 * time.Second,
		MaxWindowsPerRun: 24,
		BatchLimit:       5000,
	}
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	d := DefaultAggregatorConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.Grace < 0 {
		c.Grace = d.Grace
	}
	if c.MaxWindowsPerRun <= 0 {
		c.MaxWindowsPerRun = d.MaxWindowsPerRun
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = d.BatchLimit
	}
	return c
}

const maxWindowConflicts = 5

// AggregateResult reports what one aggregation pass did.
type AggregateResult struct {
	Windows   int `json:"windows"`
	Events    int `json:"events"`
	Summaries int `json:"summaries"`
	Conflicts int `json:"conflicts"`
}

// Aggregator folds pending meter events of closed windows into usage summaries.
// Every event is counted exactly once: the upsert and the aggregated mark commit
// together, so repeated or concurrent passes never double count.
type Aggregator struct {
	store     metering.AggregationStore
	summaries metering.SummaryRepository
	cfg       AggregatorConfig
	options

	runMu  sync.Mutex
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator creates a new Aggregator
func NewAggregator(store metering.AggregationStore, summaries metering.SummaryRepository, cfg AggregatorConfig, opts ...Option) *Aggregator {
	return &Aggregator{
		store:     store,
		summaries: summaries,
		cfg:       cfg.withDefaults(),
		options:   buildOptions(opts),
	}
}

// Aggregate processes pending events of windows that closed at least Grace ago,
// oldest first, up to MaxWindowsPerRun batches.
func (a *Aggregator) Aggregate(ctx context.Context) (AggregateResult, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	var result AggregateResult
	cutoff := metering.WindowFor(a.now().Add(-a.cfg.Grace), a.cfg.WindowSize).Start
	seen := make(map[time.Time]struct{})

	for range a.cfg.MaxWindowsPerRun {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		ts, ok, err := a.store.OldestPending(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("find pending events: %w", err)
		}
		if !ok {
			break
		}
		window := metering.WindowFor(ts, a.cfg.WindowSize)

		n, summaries, err := a.store.AggregateWindow(ctx, window, a.cfg.BatchLimit)
		if errors.Is(err, metering.ErrAggregationConflict) {
			result.Conflicts++
			a.logger.Info("window claimed by another aggregator",
				zap.Time("window_start", window.Start),
			)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("aggregate window %s: %w", window.Start.Format(time.RFC3339), err)
		}
		if n == 0 {
			// Pending rows of the oldest window are held by another aggregator.
			a.logger.Debug("oldest window has no claimable events",
				zap.Time("window_start", window.Start),
			)
			break
		}
		if _, dup := seen[window.Start]; !dup {
			seen[window.Start] = struct{}{}
			result.Windows++
			a.metrics.AggregationWindow(ctx)
		}
		result.Events += n
		result.Summaries += len(summaries)
	}

	if result.Events > 0 || result.Conflicts > 0 {
		a.logger.Info("aggregation pass complete",
			zap.Int("windows", result.Windows),
			zap.Int("events", result.Events),
			zap.Int("summaries", result.Summaries),
			zap.Int("conflicts", result.Conflicts),
		)
	}
	return result, nil
}

// AggregateWindow drains every pending event of one window regardless of the grace period.
func (a *Aggregator) AggregateWindow(ctx context.Context, window metering.Window) (AggregateResult, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	result := AggregateResult{}
	for {
		n, summaries, err := a.store.AggregateWindow(ctx, window, a.cfg.BatchLimit)
		if errors.Is(err, metering.ErrAggregationConflict) {
			result.Conflicts++
			if result.Conflicts >= maxWindowConflicts {
				return result, err
			}
			continue
		}
		if err != nil {
			return result, fmt.Errorf("aggregate window %s: %w", window.Start.Format(time.RFC3339), err)
		}
		if n == 0 {
			break
		}
		result.Events += n
		result.Summaries += len(summaries)
		if n < a.cfg.BatchLimit {
			break
		}
	}
	if result.Events > 0 {
		result.Windows = 1
		a.metrics.AggregationWindow(ctx)
	}
	return result, nil
}

// Summaries reads stored summaries.
func (a *Aggregator) Summaries(ctx context.Context, filter metering.SummaryFilter) ([]metering.UsageSummary, error) {
	return a.summaries.FindByWindow(ctx, filter)
}

// GetAggregatedChargesByWindow sums charges per tenant over windows starting in [start, end).
func (a *Aggregator) GetAggregatedChargesByWindow(ctx context.Context, start, end time.Time) ([]metering.TenantCharge, error) {
	return a.summaries.GetAggregatedChargesByWindow(ctx, start, end)
}

// Start runs Aggregate every Interval until Stop is called.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.run(loopCtx)

	a.logger.Info("usage aggregator started",
		zap.Duration("interval", a.cfg.Interval),
		zap.Duration("window_size", a.cfg.WindowSize),
		zap.Duration("grace", a.cfg.Grace),
	)
	return nil
}

// Stop halts the loop and waits for an in-flight pass.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()
	a.logger.Info("usage aggregator stopped")
}

func (a *Aggregator) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Aggregator) runOnce(ctx context.Context) {
	start := a.now()
	_, err := a.Aggregate(ctx)
	if ctx.Err() != nil {
		return
	}
	a.metrics.JobRun(ctx, "aggregation", a.now().Sub(start), err)
	if err != nil {
		a.logger.Error("aggregation pass failed", zap.Error(err))
	}
}
