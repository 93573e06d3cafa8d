package credit

import (
	"context"
	"time"
)

// DividendDistribution records one payout to one tenant on one date.
// At most one row exists per (TenantID, DistributionDate).
type DividendDistribution struct {
	ID               string
	TenantID         string
	DistributionDate time.Time
	Amount           Credit
	ActiveUsers      int64
	TransactionID    string
	CreatedAt        time.Time
}

// DividendRepository stores distribution rows.
type DividendRepository interface {
	Exists(ctx context.Context, tenantID string, date time.Time) (bool, error)
	// Record inserts the row. It returns false when a row for the tenant and date already exists.
	Record(ctx context.Context, d *DividendDistribution) (bool, error)
	ListByDate(ctx context.Context, date time.Time) ([]DividendDistribution, error)
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
