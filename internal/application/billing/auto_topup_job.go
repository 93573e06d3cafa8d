package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"go.uber.org/zap"
)

// AutoTopupJob buys credit for tenants whose balance fell below their policy threshold,
// at most once per tenant per UTC day.
type AutoTopupJob struct {
	ledger   credit.Ledger
	lookup   ReferenceLookup
	policies TopupPolicySource
	charger  Charger
	logger   *zap.Logger
	now      func() time.Time
}

// NewAutoTopupJob creates a new AutoTopupJob
func NewAutoTopupJob(
	ledger credit.Ledger,
	lookup ReferenceLookup,
	policies TopupPolicySource,
	charger Charger,
	logger *zap.Logger,
) *AutoTopupJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoTopupJob{
		ledger:   ledger,
		lookup:   lookup,
		policies: policies,
		charger:  charger,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the job for scheduling and leases.
func (j *AutoTopupJob) Name() string {
	return "auto_topup"
}

// TopupReferenceID is the idempotency key of a tenant's top-up on the day containing at.
// The same key is passed to the Charger.
func TopupReferenceID(tenantID string, at time.Time) string {
	return fmt.Sprintf("auto_topup:%s:%s", tenantID, credit.DateOnly(at).Format(time.DateOnly))
}

// Run evaluates every enabled policy.
func (j *AutoTopupJob) Run(ctx context.Context, at time.Time) (RunSummary, error) {
	started := j.now()
	summary := RunSummary{Job: j.Name()}

	policies, err := j.policies.TopupPolicies(ctx)
	if err != nil {
		return summary, fmt.Errorf("list top-up policies: %w", err)
	}

	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		j.topUp(ctx, p, at, &summary)
	}

	summary.Duration = j.now().Sub(started)
	j.logger.Info("auto top-up complete", summary.fields()...)
	return summary, nil
}

func (j *AutoTopupJob) topUp(ctx context.Context, p TopupPolicy, at time.Time, summary *RunSummary) {
	if p.Amount <= 0 {
		summary.Skipped++
		return
	}

	balance, err := j.ledger.Balance(ctx, p.TenantID)
	if err != nil {
		summary.Failed++
		j.logger.Error("failed to read balance", zap.String("tenant_id", p.TenantID), zap.Error(err))
		return
	}
	if balance >= p.Threshold {
		summary.Skipped++
		return
	}

	ref := TopupReferenceID(p.TenantID, at)
	existing, err := j.lookup.TransactionByReference(ctx, ref)
	if err != nil {
		summary.Failed++
		j.logger.Error("failed to look up today's top-up", zap.String("tenant_id", p.TenantID), zap.Error(err))
		return
	}
	if existing != nil {
		summary.Skipped++
		return
	}

	chargeID, err := j.charger.Charge(ctx, p.TenantID, p.Amount, ref)
	if err != nil {
		summary.Failed++
		j.logger.Error("top-up charge failed", zap.String("tenant_id", p.TenantID), zap.String("reference_id", ref), zap.Error(err))
		return
	}

	_, err = j.ledger.Credit(ctx, credit.CreditRequest{
		TenantID:      p.TenantID,
		Amount:        p.Amount,
		Type:          credit.TransactionTypeAutoTopup,
		Description:   fmt.Sprintf("auto top-up below %s", p.Threshold.String()),
		ReferenceID:   ref,
		FundingSource: chargeID,
	})
	if err != nil {
		// The next run retries with the same key; the charger does not charge twice.
		summary.Failed++
		j.logger.Error("top-up charged but not credited",
			zap.String("tenant_id", p.TenantID),
			zap.String("reference_id", ref),
			zap.String("charge_id", chargeID),
			zap.Error(err),
		)
		return
	}
	summary.Charged++
}
