package cache

import (
	"context"
	"sync"
	"time"
)

// InMemoryJobLease implements JobLease for a single process.
type InMemoryJobLease struct {
	mu        sync.Mutex
	leases    map[string]time.Time
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryJobLease creates a lease table and starts its expiry sweeper.
func NewInMemoryJobLease() *InMemoryJobLease {
	l := &InMemoryJobLease{
		leases:   make(map[string]time.Time),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.cleanupLoop()
	return l
}

// Acquire takes the key unless an unexpired lease holds it.
func (l *InMemoryJobLease) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiresAt, held := l.leases[key]; held && now.Before(expiresAt) {
		return false, nil
	}
	l.leases[key] = now.Add(ttl)
	return true, nil
}

// Release drops the key.
func (l *InMemoryJobLease) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.leases, key)
	return nil
}

// Close stops the sweeper. Safe to call multiple times.
func (l *InMemoryJobLease) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

func (l *InMemoryJobLease) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *InMemoryJobLease) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, expiresAt := range l.leases {
		if !now.Before(expiresAt) {
			delete(l.leases, key)
		}
	}
}

// Size returns the number of tracked leases.
func (l *InMemoryJobLease) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leases)
}

var _ JobLease = (*InMemoryJobLease)(nil)
