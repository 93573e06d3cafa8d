// Package billing holds the periodic jobs that move credit on a schedule: runtime
// deduction, the daily dividend and auto top-up. Each job isolates failures per tenant.
package billing

import (
	"context"
	"time"

	"github.com/erp/billing/internal/domain/credit"
)

// ResourceCounter reports how many billable resources a tenant is running.
type ResourceCounter interface {
	ActiveResources(ctx context.Context, tenantID string) (int64, error)
}

// SuspendFunc is invoked when a tenant can no longer pay for its resources.
type SuspendFunc func(ctx context.Context, tenantID string) error

// DividendPoolSource supplies the amount distributed on a date.
type DividendPoolSource interface {
	DividendPool(ctx context.Context, date time.Time) (credit.Credit, error)
}

// StaticDividendPool distributes the same amount every day.
type StaticDividendPool credit.Credit

// DividendPool implements DividendPoolSource.
func (p StaticDividendPool) DividendPool(context.Context, time.Time) (credit.Credit, error) {
	return credit.Credit(p), nil
}

// ActiveUserSource reports active users per tenant on a date.
type ActiveUserSource interface {
	ActiveUsers(ctx context.Context, date time.Time) (map[string]int64, error)
}

// TopupPolicy is a tenant's standing instruction to buy credit when the balance runs low.
type TopupPolicy struct {
	TenantID  string        `json:"tenantId"`
	Enabled   bool          `json:"enabled"`
	Threshold credit.Credit `json:"threshold"`
	Amount    credit.Credit `json:"amount"`
}

// TopupPolicySource lists auto top-up policies.
type TopupPolicySource interface {
	TopupPolicies(ctx context.Context) ([]TopupPolicy, error)
}

// Charger collects money from a tenant's payment method. The idempotency key makes a
// retried charge a no-op on the payment side. It returns the external charge id.
type Charger interface {
	Charge(ctx context.Context, tenantID string, amount credit.Credit, idempotencyKey string) (string, error)
}

// ReferenceLookup finds a ledger entry by its reference id.
type ReferenceLookup interface {
	TransactionByReference(ctx context.Context, referenceID string) (*credit.CreditTransaction, error)
}
