package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/billing/internal/infrastructure/cache"
	"github.com/erp/billing/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingTask(n *atomic.Int32) Task {
	return func(context.Context, time.Time) error {
		n.Add(1)
		return nil
	}
}

func TestNextRun(t *testing.T) {
	at := config.Clock{Hour: 2, Minute: 30}
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today's slot", time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)},
		{"exactly at slot", time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC), time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC)},
		{"after today's slot", time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC)},
		{"month rollover", time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 2, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRun(tt.now, at))
		})
	}
}

func TestIntervalRunner_InvalidInterval(t *testing.T) {
	_, err := NewIntervalRunner("x", 0, func(context.Context, time.Time) error { return nil })
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIntervalRunner_LeaseAllowsOneRunPerSlot(t *testing.T) {
	lease := cache.NewInMemoryJobLease()
	defer lease.Close()

	var runs atomic.Int32
	a, err := NewIntervalRunner("runtime_deduction", time.Hour, countingTask(&runs), WithLease(lease))
	require.NoError(t, err)
	b, err := NewIntervalRunner("runtime_deduction", time.Hour, countingTask(&runs), WithLease(lease))
	require.NoError(t, err)

	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)

	ran, err := a.Trigger(ctx, at)
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = b.Trigger(ctx, at.Add(20*time.Minute))
	require.NoError(t, err)
	assert.False(t, ran, "same hour slot")

	ran, err = b.Trigger(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(2), runs.Load())
}

func TestIntervalRunner_RecordsFailure(t *testing.T) {
	r, err := NewIntervalRunner("flaky", time.Minute, func(context.Context, time.Time) error {
		return errors.New("boom")
	})
	require.NoError(t, err)

	ran, err := r.Trigger(context.Background(), time.Now())
	assert.True(t, ran)
	require.Error(t, err)
	assert.Equal(t, "boom", r.Status().LastError)
	assert.False(t, r.Status().LastRun.IsZero())
}

func TestIntervalRunner_StartStop(t *testing.T) {
	var runs atomic.Int32
	r, err := NewIntervalRunner("tick", 10*time.Millisecond, countingTask(&runs))
	require.NoError(t, err)

	ctx := context.Background()
	require.ErrorIs(t, r.Stop(ctx), ErrNotRunning)
	require.NoError(t, r.Start(ctx))
	require.ErrorIs(t, r.Start(ctx), ErrAlreadyRunning)
	assert.True(t, r.Status().Running)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, r.Stop(stopCtx))
	assert.False(t, r.Status().Running)
}

func TestIntervalRunner_TimeoutBoundsRun(t *testing.T) {
	r, err := NewIntervalRunner("slow", time.Minute, func(ctx context.Context, _ time.Time) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	_, err = r.Trigger(context.Background(), time.Now())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDailyRunner_LeasePerDate(t *testing.T) {
	lease := cache.NewInMemoryJobLease()
	defer lease.Close()

	var runs atomic.Int32
	r := NewDailyRunner("dividend", config.Clock{Hour: 0, Minute: 5}, countingTask(&runs), WithLease(lease))
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC)

	ran, err := r.Trigger(ctx, day)
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = r.Trigger(ctx, day.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, ran)

	ran, err = r.Trigger(ctx, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(2), runs.Load())
}

func TestDailyRunner_StartStop(t *testing.T) {
	r := NewDailyRunner("reconciliation", config.Clock{Hour: 3}, func(context.Context, time.Time) error { return nil })
	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	require.ErrorIs(t, r.Start(ctx), ErrAlreadyRunning)
	require.NoError(t, r.Stop(ctx))
	require.ErrorIs(t, r.Stop(ctx), ErrNotRunning)
}
