package scheduler

import (
	"context"
	"time"

	"github.com/erp/billing/internal/infrastructure/config"
	"go.uber.org/zap"
)

// dailyLeaseTTL keeps a day's slot claimed well past its run while expiring before the next one.
const dailyLeaseTTL = 20 * time.Hour

// DailyRunner runs a task once per UTC day at a fixed time of day.
type DailyRunner struct {
	*runner
	at config.Clock
}

// NewDailyRunner creates a new DailyRunner
func NewDailyRunner(name string, at config.Clock, task Task, opts ...Option) *DailyRunner {
	return &DailyRunner{
		runner: newRunner(name, task, dailyLeaseTTL, opts),
		at:     at,
	}
}

// Start launches the daily loop.
func (r *DailyRunner) Start(ctx context.Context) error {
	if err := r.start(ctx, r.loop); err != nil {
		return err
	}
	r.logger.Info("Daily runner started", zap.Int("hour", r.at.Hour), zap.Int("minute", r.at.Minute))
	return nil
}

// Stop halts the loop and waits for an in-flight run, bounded by ctx.
func (r *DailyRunner) Stop(ctx context.Context) error {
	return r.stop(ctx)
}

// Trigger runs the task now for the UTC date containing at.
func (r *DailyRunner) Trigger(ctx context.Context, at time.Time) (bool, error) {
	return r.execute(ctx, at, at.UTC().Format(time.DateOnly))
}

// Status returns the runner state.
func (r *DailyRunner) Status() Status {
	return r.status()
}

// NextRun returns the first run time strictly after now.
func NextRun(now time.Time, at config.Clock) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (r *DailyRunner) loop(ctx context.Context) {
	for {
		next := NextRun(r.now(), r.at)
		delay := next.Sub(r.now())
		r.logger.Info("Daily run scheduled", zap.Time("next_run", next), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_, _ = r.Trigger(ctx, next)
		}
	}
}
