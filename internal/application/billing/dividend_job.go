package billing

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DividendJob splits a daily pool across tenants in proportion to their active users.
// A tenant is paid at most once per date: the credit is keyed by a per-day reference id
// and a distribution row per (tenant, date) is recorded after it.
type DividendJob struct {
	ledger    credit.Ledger
	dividends credit.DividendRepository
	pool      DividendPoolSource
	users     ActiveUserSource
	logger    *zap.Logger
	now       func() time.Time
}

// NewDividendJob creates a new DividendJob
func NewDividendJob(
	ledger credit.Ledger,
	dividends credit.DividendRepository,
	pool DividendPoolSource,
	users ActiveUserSource,
	logger *zap.Logger,
) *DividendJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DividendJob{
		ledger:    ledger,
		dividends: dividends,
		pool:      pool,
		users:     users,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the job for scheduling and leases.
func (j *DividendJob) Name() string {
	return "dividend"
}

// DividendReferenceID is the idempotency key of a tenant's dividend on a date.
func DividendReferenceID(tenantID string, date time.Time) string {
	return fmt.Sprintf("dividend:%s:%s", tenantID, credit.DateOnly(date).Format(time.DateOnly))
}

// Run distributes the pool of the UTC date containing date.
func (j *DividendJob) Run(ctx context.Context, date time.Time) (RunSummary, error) {
	started := j.now()
	day := credit.DateOnly(date)
	summary := RunSummary{Job: j.Name()}

	pool, err := j.pool.DividendPool(ctx, day)
	if err != nil {
		return summary, fmt.Errorf("read dividend pool: %w", err)
	}
	if pool <= 0 {
		j.logger.Info("dividend pool is empty", zap.Time("date", day))
		return summary, nil
	}

	users, err := j.users.ActiveUsers(ctx, day)
	if err != nil {
		return summary, fmt.Errorf("read active users: %w", err)
	}
	var total int64
	tenants := make([]string, 0, len(users))
	for tenant, n := range users {
		if n > 0 {
			total += n
			tenants = append(tenants, tenant)
		}
	}
	slices.Sort(tenants)

	for _, tenant := range tenants {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		j.payTenant(ctx, tenant, day, credit.Share(pool, users[tenant], total), users[tenant], &summary)
	}

	summary.Duration = j.now().Sub(started)
	j.logger.Info("dividend distribution complete",
		append(summary.fields(),
			zap.Time("date", day),
			zap.String("pool", pool.String()),
			zap.Int64("active_users", total),
		)...,
	)
	return summary, nil
}

func (j *DividendJob) payTenant(ctx context.Context, tenantID string, day time.Time, share credit.Credit, activeUsers int64, summary *RunSummary) {
	paid, err := j.dividends.Exists(ctx, tenantID, day)
	if err != nil {
		summary.Failed++
		j.logger.Error("failed to check dividend distribution", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if paid || share <= 0 {
		summary.Skipped++
		return
	}

	ref := DividendReferenceID(tenantID, day)
	tx, err := j.ledger.Credit(ctx, credit.CreditRequest{
		TenantID:      tenantID,
		Amount:        share,
		Type:          credit.TransactionTypeDividend,
		Description:   fmt.Sprintf("daily dividend %s", day.Format(time.DateOnly)),
		ReferenceID:   ref,
		FundingSource: "dividend_pool",
	})
	if err != nil {
		summary.Failed++
		j.logger.Error("dividend credit failed", zap.String("tenant_id", tenantID), zap.String("reference_id", ref), zap.Error(err))
		return
	}

	// A rerun after a crash here finds no row, replays the credit by reference and records it.
	recorded, err := j.dividends.Record(ctx, &credit.DividendDistribution{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		DistributionDate: day,
		Amount:           tx.Amount,
		ActiveUsers:      activeUsers,
		TransactionID:    tx.ID,
		CreatedAt:        j.now(),
	})
	if err != nil {
		summary.Failed++
		j.logger.Error("failed to record dividend distribution", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if !recorded {
		summary.Skipped++
		return
	}
	summary.Charged++
}
