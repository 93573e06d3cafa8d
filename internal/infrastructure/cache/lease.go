// Package cache provides the job leases that keep periodic billing jobs from
// running twice for the same slot across replicas.
package cache

import (
	"context"
	"time"
)

// JobLease is a best-effort distributed mutex keyed by job slot.
// Ledger reference ids remain the correctness guarantee; the lease only avoids duplicate work.
type JobLease interface {
	// Acquire returns true when the caller now holds key for ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release gives up a lease held by this process. Releasing an unheld key is a no-op.
	Release(ctx context.Context, key string) error
	Close() error
}
