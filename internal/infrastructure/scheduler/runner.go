// Package scheduler drives periodic jobs. Each run is tied to a slot (an interval
// period or a UTC date) and guarded by a job lease so that only one replica runs a slot.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/billing/internal/infrastructure/cache"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Task is the unit of work a runner executes for the slot containing at.
type Task func(ctx context.Context, at time.Time) error

// Option configures a runner.
type Option func(*runner)

// WithLease guards each slot with a job lease.
func WithLease(lease cache.JobLease) Option {
	return func(r *runner) {
		r.lease = lease
	}
}

// WithLeaseTTL overrides how long a claimed slot stays claimed.
func WithLeaseTTL(d time.Duration) Option {
	return func(r *runner) {
		if d > 0 {
			r.leaseTTL = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records run durations and outcomes.
func WithMetrics(m *telemetry.BillingMetrics) Option {
	return func(r *runner) {
		r.metrics = m
	}
}

// WithTimeout bounds a single run.
func WithTimeout(d time.Duration) Option {
	return func(r *runner) {
		r.timeout = d
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(r *runner) {
		r.now = now
	}
}

// runner holds what interval and daily runners share: lifecycle, leasing and run bookkeeping.
type runner struct {
	name     string
	task     Task
	lease    cache.JobLease
	leaseTTL time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *telemetry.BillingMetrics
	now      func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastRun   time.Time
	lastErr   error
}

func newRunner(name string, task Task, leaseTTL time.Duration, opts []Option) *runner {
	r := &runner{
		name:     name,
		task:     task,
		leaseTTL: leaseTTL,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("job", name))
	return r
}

func (r *runner) start(ctx context.Context, loop func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return ErrAlreadyRunning
	}
	r.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loop(ctx)
	}()
	return nil
}

func (r *runner) stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.isRunning = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Runner stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Runner stop timed out")
		return ctx.Err()
	}
}

// execute runs the task for a slot unless another holder owns the slot's lease.
// It reports whether the task ran.
func (r *runner) execute(ctx context.Context, at time.Time, slot string) (bool, error) {
	if r.lease != nil {
		key := fmt.Sprintf("%s:%s", r.name, slot)
		ok, err := r.lease.Acquire(ctx, key, r.leaseTTL)
		if err != nil {
			r.logger.Error("Failed to acquire job lease", zap.String("slot", slot), zap.Error(err))
			return false, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if !ok {
			r.logger.Debug("Slot already claimed by another instance", zap.String("slot", slot))
			return false, nil
		}
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	started := r.now()
	err := r.task(runCtx, at)
	duration := r.now().Sub(started)
	r.metrics.JobRun(ctx, r.name, duration, err)

	r.mu.Lock()
	r.lastRun = started
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Job run failed", zap.String("slot", slot), zap.Duration("duration", duration), zap.Error(err))
		return true, err
	}
	r.logger.Info("Job run completed", zap.String("slot", slot), zap.Duration("duration", duration))
	return true, nil
}

// Status is a snapshot of a runner's state.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"lastRun,omitzero"`
	LastError string    `json:"lastError,omitempty"`
}

func (r *runner) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{Name: r.name, Running: r.isRunning, LastRun: r.lastRun}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}
