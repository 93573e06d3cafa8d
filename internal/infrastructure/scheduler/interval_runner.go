package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// IntervalRunner runs a task every interval. Slots are interval periods aligned to the
// UTC epoch, so every replica agrees on the slot key.
type IntervalRunner struct {
	*runner
	interval time.Duration
}

// NewIntervalRunner creates a new IntervalRunner. The lease lasts one interval.
func NewIntervalRunner(name string, interval time.Duration, task Task, opts ...Option) (*IntervalRunner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s interval must be positive", ErrInvalidConfig, name)
	}
	return &IntervalRunner{
		runner:   newRunner(name, task, interval, opts),
		interval: interval,
	}, nil
}

// Start launches the ticker loop.
func (r *IntervalRunner) Start(ctx context.Context) error {
	if err := r.start(ctx, r.loop); err != nil {
		return err
	}
	r.logger.Info("Interval runner started", zap.Duration("interval", r.interval))
	return nil
}

// Stop halts the loop and waits for an in-flight run, bounded by ctx.
func (r *IntervalRunner) Stop(ctx context.Context) error {
	return r.stop(ctx)
}

// Trigger runs the task now for the slot containing at. It reports false when another
// instance holds the slot.
func (r *IntervalRunner) Trigger(ctx context.Context, at time.Time) (bool, error) {
	return r.execute(ctx, at, r.slot(at))
}

// Status returns the runner state.
func (r *IntervalRunner) Status() Status {
	return r.status()
}

func (r *IntervalRunner) slot(at time.Time) string {
	return strconv.FormatInt(at.UTC().Truncate(r.interval).Unix(), 10)
}

func (r *IntervalRunner) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Trigger(ctx, r.now())
		}
	}
}
