package metering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/billing/internal/domain/metering"
	"go.uber.org/zap"
)

// WAL is the durable buffer between Emit and the event store.
type WAL interface {
	Append(event metering.MeterEvent) (metering.MeterEvent, error)
	ReadAll() ([]metering.MeterEvent, error)
	Remove(ids map[string]struct{}) error
	Clear() error
	Len() int
	Close() error
}

// IngestorConfig holds flush cadence and retry settings.
type IngestorConfig struct {
	FlushInterval        time.Duration
	BatchSize            int
	MaxFlushRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultIngestorConfig returns default configuration
func DefaultIngestorConfig() IngestorConfig {
	return IngestorConfig{
		FlushInterval:        5 * time.Second,
		BatchSize:            100,
		MaxFlushRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     2 * time.Second,
	}
}

func (c IngestorConfig) withDefaults() IngestorConfig {
	d := DefaultIngestorConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxFlushRetries < 0 {
		c.MaxFlushRetries = d.MaxFlushRetries
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = d.RetryMaxInterval
	}
	return c
}

// Ingestor accepts meter events, makes them durable in the WAL before returning, and
// flushes them to the event store in batches. An event leaves the WAL only once it is
// stored or dead-lettered.
type Ingestor struct {
	wal   WAL
	store metering.EventStore
	dlq   metering.DeadLetterStore
	cfg   IngestorConfig
	options

	mu      sync.Mutex // guards buffer, closed, started and WAL appends
	buffer  []metering.MeterEvent
	closed  bool
	started bool

	flushMu sync.Mutex // serializes Flush
	signal  chan struct{}

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewIngestor creates a new Ingestor
func NewIngestor(wal WAL, store metering.EventStore, dlq metering.DeadLetterStore, cfg IngestorConfig, opts ...Option) *Ingestor {
	return &Ingestor{
		wal:     wal,
		store:   store,
		dlq:     dlq,
		cfg:     cfg.withDefaults(),
		options: buildOptions(opts),
		signal:  make(chan struct{}, 1),
	}
}

// Start replays events left in the WAL by a previous process into the buffer and
// launches the flush loop.
func (i *Ingestor) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return metering.ErrIngestorClosed
	}
	if i.started {
		i.mu.Unlock()
		return nil
	}
	replayed, err := i.wal.ReadAll()
	if err != nil {
		i.mu.Unlock()
		return fmt.Errorf("replay write-ahead log: %w", err)
	}
	known := make(map[string]struct{}, len(i.buffer))
	for _, e := range i.buffer {
		known[e.ID] = struct{}{}
	}
	recovered := make([]metering.MeterEvent, 0, len(replayed))
	for _, e := range replayed {
		if _, dup := known[e.ID]; !dup {
			recovered = append(recovered, e)
		}
	}
	i.buffer = append(recovered, i.buffer...)
	i.started = true
	i.mu.Unlock()

	if len(recovered) > 0 {
		i.logger.Info("recovered meter events from write-ahead log", zap.Int("count", len(recovered)))
		i.metrics.WALReplayed(ctx, len(recovered))
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.cancel = cancel
	i.wg.Add(1)
	go i.run(loopCtx)

	i.logger.Info("meter ingestor started",
		zap.Duration("flush_interval", i.cfg.FlushInterval),
		zap.Int("batch_size", i.cfg.BatchSize),
		zap.Int("max_flush_retries", i.cfg.MaxFlushRetries),
	)
	return nil
}

// Emit validates the event, appends it to the WAL and buffers it. It never touches the
// event store. The returned event carries the assigned id and timestamp.
func (i *Ingestor) Emit(ctx context.Context, event metering.MeterEvent) (metering.MeterEvent, error) {
	event.Stamp(i.now())
	if err := event.Validate(); err != nil {
		return metering.MeterEvent{}, err
	}

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return metering.MeterEvent{}, metering.ErrIngestorClosed
	}
	stored, err := i.wal.Append(event)
	if err != nil {
		i.mu.Unlock()
		return metering.MeterEvent{}, fmt.Errorf("append to write-ahead log: %w", err)
	}
	i.buffer = append(i.buffer, stored)
	full := len(i.buffer) >= i.cfg.BatchSize
	i.mu.Unlock()

	i.metrics.EventsEmitted(ctx, 1)
	if full {
		select {
		case i.signal <- struct{}{}:
		default:
		}
	}
	return stored, nil
}

// Pending returns the number of buffered events not yet flushed.
func (i *Ingestor) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.buffer)
}

// DeadLetters lists events that could not be stored.
func (i *Ingestor) DeadLetters(ctx context.Context) ([]metering.DeadLetter, error) {
	return i.dlq.List(ctx)
}

// Flush writes the buffered events to the store. The batch insert is retried with
// exponential back-off; when retries are exhausted each event is inserted alone and
// the ones that still fail are dead-lettered. Nothing is dropped.
func (i *Ingestor) Flush(ctx context.Context) error {
	i.flushMu.Lock()
	defer i.flushMu.Unlock()

	i.mu.Lock()
	batch := i.buffer
	i.buffer = nil
	i.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	attempts, err := i.insertWithRetry(ctx, batch)
	if err == nil {
		i.metrics.EventsFlushed(ctx, len(batch))
		i.logger.Debug("flushed meter events", zap.Int("count", len(batch)))
		return i.forget(batch)
	}
	if ctx.Err() != nil {
		i.requeue(batch)
		return ctx.Err()
	}

	i.logger.Warn("batch insert exhausted retries, falling back to per-event inserts",
		zap.Int("count", len(batch)),
		zap.Int("attempt", attempts),
		zap.Error(err),
	)
	return i.flushEach(ctx, batch, attempts)
}

func (i *Ingestor) insertWithRetry(ctx context.Context, batch []metering.MeterEvent) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = i.cfg.RetryInitialInterval
	b.MaxInterval = i.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		err := i.store.InsertBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		i.metrics.FlushFailure(ctx)
		i.logger.Warn("meter event batch insert failed",
			zap.Int("attempt", attempts),
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(i.cfg.MaxFlushRetries)), ctx)
	return attempts, backoff.Retry(op, policy)
}

func (i *Ingestor) flushEach(ctx context.Context, batch []metering.MeterEvent, attempts int) error {
	var (
		stored []metering.MeterEvent
		dead   []metering.DeadLetter
	)
	for n, e := range batch {
		err := i.store.InsertBatch(ctx, []metering.MeterEvent{e})
		if err == nil {
			stored = append(stored, e)
			continue
		}
		if ctx.Err() != nil {
			i.requeue(batch[n:])
			return errors.Join(ctx.Err(), i.settle(ctx, stored, dead))
		}
		i.logger.Error("dead-lettering meter event",
			zap.String("event_id", e.ID),
			zap.String("tenant_id", e.TenantID),
			zap.Error(err),
		)
		dead = append(dead, metering.DeadLetter{
			Event:    e,
			Reason:   err.Error(),
			Attempts: attempts + 1,
			FailedAt: i.now(),
		})
	}
	return i.settle(ctx, stored, dead)
}

// settle records dead letters and drops stored and dead-lettered events from the WAL.
func (i *Ingestor) settle(ctx context.Context, stored []metering.MeterEvent, dead []metering.DeadLetter) error {
	i.metrics.EventsFlushed(ctx, len(stored))
	done := stored
	if len(dead) > 0 {
		if err := i.dlq.Put(ctx, dead); err != nil {
			events := make([]metering.MeterEvent, 0, len(dead))
			for _, d := range dead {
				events = append(events, d.Event)
			}
			i.requeue(events)
			return errors.Join(fmt.Errorf("write dead letters: %w", err), i.forget(stored))
		}
		i.metrics.EventsDeadLettered(ctx, len(dead))
		for _, d := range dead {
			done = append(done, d.Event)
		}
	}
	return i.forget(done)
}

// forget removes settled events from the WAL.
func (i *Ingestor) forget(events []metering.MeterEvent) error {
	if len(events) == 0 {
		return nil
	}
	ids := make(map[string]struct{}, len(events))
	for _, e := range events {
		ids[e.ID] = struct{}{}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var err error
	if len(i.buffer) == 0 && i.wal.Len() == len(ids) {
		err = i.wal.Clear()
	} else {
		err = i.wal.Remove(ids)
	}
	if err != nil {
		// The events are stored; a replay re-inserts them and the store skips known ids.
		i.logger.Error("failed to trim write-ahead log", zap.Int("count", len(ids)), zap.Error(err))
		return fmt.Errorf("trim write-ahead log: %w", err)
	}
	return nil
}

func (i *Ingestor) requeue(events []metering.MeterEvent) {
	if len(events) == 0 {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.buffer = append(append(make([]metering.MeterEvent, 0, len(events)+len(i.buffer)), events...), i.buffer...)
}

func (i *Ingestor) run(ctx context.Context) {
	defer i.wg.Done()

	ticker := time.NewTicker(i.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.flushFromLoop(ctx)
		case <-i.signal:
			i.flushFromLoop(ctx)
		}
	}
}

func (i *Ingestor) flushFromLoop(ctx context.Context) {
	if err := i.Flush(ctx); err != nil && ctx.Err() == nil {
		i.logger.Error("meter event flush failed", zap.Error(err))
	}
}

// Close stops the flush loop, flushes what is left and closes the WAL. Idempotent.
func (i *Ingestor) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.mu.Lock()
		i.closed = true
		i.mu.Unlock()

		if i.cancel != nil {
			i.cancel()
		}
		i.wg.Wait()

		flushErr := i.Flush(ctx)
		if flushErr != nil {
			i.logger.Error("final flush failed; events remain in the write-ahead log", zap.Error(flushErr))
		}
		i.closeErr = errors.Join(flushErr, i.wal.Close())
		i.logger.Info("meter ingestor stopped")
	})
	return i.closeErr
}
