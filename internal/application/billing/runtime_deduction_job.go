package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// RuntimeDeductionConfig holds runtime billing settings
type RuntimeDeductionConfig struct {
	// Interval is the billing period; one debit per tenant per period.
	Interval time.Duration
	// UnitCost is charged per active resource per period.
	UnitCost credit.Credit
}

// RuntimeDeductionJob debits tenants for their running resources and suspends tenants
// that cannot cover the charge.
type RuntimeDeductionJob struct {
	ledger    credit.Ledger
	resources ResourceCounter
	onSuspend SuspendFunc
	cfg       RuntimeDeductionConfig
	logger    *zap.Logger
	metrics   *telemetry.BillingMetrics
	now       func() time.Time
}

// NewRuntimeDeductionJob creates a new RuntimeDeductionJob
func NewRuntimeDeductionJob(
	ledger credit.Ledger,
	resources ResourceCounter,
	onSuspend SuspendFunc,
	cfg RuntimeDeductionConfig,
	logger *zap.Logger,
	metrics *telemetry.BillingMetrics,
) *RuntimeDeductionJob {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuntimeDeductionJob{
		ledger:    ledger,
		resources: resources,
		onSuspend: onSuspend,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the job for scheduling and leases.
func (j *RuntimeDeductionJob) Name() string {
	return "runtime_deduction"
}

// ReferenceID is the idempotency key of a tenant's runtime debit for the period containing at.
func (j *RuntimeDeductionJob) ReferenceID(tenantID string, at time.Time) string {
	return fmt.Sprintf("runtime:%s:%d", tenantID, at.UTC().Truncate(j.cfg.Interval).Unix())
}

// Run bills every tenant with a positive balance for the period containing at.
// Only a failure to list tenants or a cancelled context aborts the run.
func (j *RuntimeDeductionJob) Run(ctx context.Context, at time.Time) (RunSummary, error) {
	started := j.now()
	summary := RunSummary{Job: j.Name()}

	tenants, err := j.ledger.TenantsWithBalance(ctx)
	if err != nil {
		return summary, fmt.Errorf("list tenants with balance: %w", err)
	}

	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		j.billTenant(ctx, t.TenantID, at, &summary)
	}

	summary.Duration = j.now().Sub(started)
	j.logger.Info("runtime deduction complete", summary.fields()...)
	return summary, nil
}

func (j *RuntimeDeductionJob) billTenant(ctx context.Context, tenantID string, at time.Time, summary *RunSummary) {
	count, err := j.resources.ActiveResources(ctx, tenantID)
	if err != nil {
		summary.Failed++
		j.logger.Error("failed to count active resources", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if count <= 0 || j.cfg.UnitCost <= 0 {
		summary.Skipped++
		return
	}

	amount, err := j.cfg.UnitCost.MulInt(count)
	if err != nil {
		summary.Failed++
		j.logger.Error("runtime charge out of range",
			zap.String("tenant_id", tenantID),
			zap.Int64("active_resources", count),
			zap.Error(err),
		)
		return
	}
	ref := j.ReferenceID(tenantID, at)
	tx, err := j.ledger.Debit(ctx, credit.DebitRequest{
		TenantID:     tenantID,
		Amount:       amount,
		Type:         credit.TransactionTypeRuntime,
		Description:  fmt.Sprintf("runtime: %d active resources", count),
		ReferenceID:  ref,
		AllowPartial: true,
	})
	switch {
	case err == nil:
		summary.Charged++
		if tx.Debited() < amount {
			j.logger.Warn("runtime charge only partially covered",
				zap.String("tenant_id", tenantID),
				zap.String("reference_id", ref),
				zap.String("requested", amount.String()),
				zap.String("debited", tx.Debited().String()),
			)
			j.suspend(ctx, tenantID, summary)
		}
	case errors.Is(err, credit.ErrDuplicateReference):
		summary.Skipped++
	case errors.Is(err, credit.ErrInsufficientBalance):
		// The balance reached zero after the tenant list was read.
		j.suspend(ctx, tenantID, summary)
	default:
		summary.Failed++
		j.logger.Error("runtime debit failed",
			zap.String("tenant_id", tenantID),
			zap.String("reference_id", ref),
			zap.Error(err),
		)
	}
}

func (j *RuntimeDeductionJob) suspend(ctx context.Context, tenantID string, summary *RunSummary) {
	if j.onSuspend == nil {
		return
	}
	if err := j.onSuspend(ctx, tenantID); err != nil {
		summary.Failed++
		j.logger.Error("failed to suspend tenant", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	summary.Suspended++
	j.metrics.TenantSuspended(ctx, j.Name())
	j.logger.Warn("tenant suspended for insufficient balance", zap.String("tenant_id", tenantID))
}
