// Package reconciliation compares what usage says tenants should have been charged with
// what the ledger actually debited, and reports the drift. It never writes to the ledger.
package reconciliation

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/domain/metering"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ChargeSource reads aggregated usage charges.
type ChargeSource interface {
	GetAggregatedChargesByWindow(ctx context.Context, start, end time.Time) ([]metering.TenantCharge, error)
}

// DebitSource reads adapter usage debits from the ledger.
type DebitSource interface {
	GetAggregatedAdapterUsageDebits(ctx context.Context, start, end time.Time) ([]credit.TenantDebit, error)
}

// DriftRecord is one tenant whose ledger debits disagree with its aggregated charges.
// Delta is charge minus debit: positive means under-charged, negative over-charged.
type DriftRecord struct {
	TenantID         string        `json:"tenantId"`
	WindowStart      time.Time     `json:"windowStart"`
	WindowEnd        time.Time     `json:"windowEnd"`
	AggregatedCharge credit.Credit `json:"aggregatedCharge"`
	LedgerDebited    credit.Credit `json:"ledgerDebited"`
	Delta            credit.Credit `json:"deltaRaw"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	WindowStart     time.Time     `json:"windowStart"`
	WindowEnd       time.Time     `json:"windowEnd"`
	GeneratedAt     time.Time     `json:"generatedAt"`
	Tolerance       credit.Credit `json:"tolerance"`
	TenantsCompared int           `json:"tenantsCompared"`
	TotalCharged    credit.Credit `json:"totalCharged"`
	TotalDebited    credit.Credit `json:"totalDebited"`
	Records         []DriftRecord `json:"records"`
}

// HasDrift reports whether any tenant drifted beyond the tolerance.
func (r *Report) HasDrift() bool {
	return len(r.Records) > 0
}

// Option configures a Service.
type Option func(*Service)

// WithTolerance sets the absolute delta tolerated before a tenant is reported.
func WithTolerance(t credit.Credit) Option {
	return func(s *Service) {
		s.tolerance = t.Abs()
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.BillingMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the clock used to stamp reports.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs reconciliations.
type Service struct {
	charges   ChargeSource
	debits    DebitSource
	tolerance credit.Credit
	logger    *zap.Logger
	metrics   *telemetry.BillingMetrics
	now       func() time.Time
}

// NewService creates a new reconciliation Service
func NewService(charges ChargeSource, debits DebitSource, opts ...Option) *Service {
	s := &Service{
		charges: charges,
		debits:  debits,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile joins charges and debits by tenant over [start, end). A tenant present on
// only one side is compared against zero.
func (s *Service) Reconcile(ctx context.Context, start, end time.Time) (*Report, error) {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return nil, fmt.Errorf("reconcile: end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	charges, err := s.charges.GetAggregatedChargesByWindow(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("reconcile: read charges: %w", err)
	}
	debits, err := s.debits.GetAggregatedAdapterUsageDebits(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("reconcile: read debits: %w", err)
	}

	type pair struct{ charge, debit credit.Credit }
	joined := make(map[string]*pair, len(charges)+len(debits))
	entry := func(tenant string) *pair {
		p, ok := joined[tenant]
		if !ok {
			p = &pair{}
			joined[tenant] = p
		}
		return p
	}

	report := &Report{
		WindowStart: start,
		WindowEnd:   end,
		GeneratedAt: s.now(),
		Tolerance:   s.tolerance,
		Records:     []DriftRecord{},
	}
	for _, c := range charges {
		entry(c.TenantID).charge += c.TotalCharge
		report.TotalCharged += c.TotalCharge
	}
	for _, d := range debits {
		entry(d.TenantID).debit += d.TotalDebit
		report.TotalDebited += d.TotalDebit
	}
	report.TenantsCompared = len(joined)

	for tenant, p := range joined {
		delta := p.charge - p.debit
		if delta.Abs() <= s.tolerance {
			continue
		}
		report.Records = append(report.Records, DriftRecord{
			TenantID:         tenant,
			WindowStart:      start,
			WindowEnd:        end,
			AggregatedCharge: p.charge,
			LedgerDebited:    p.debit,
			Delta:            delta,
		})
	}
	slices.SortFunc(report.Records, func(a, b DriftRecord) int {
		if c := cmp.Compare(b.Delta.Abs(), a.Delta.Abs()); c != 0 {
			return c
		}
		return cmp.Compare(a.TenantID, b.TenantID)
	})

	s.metrics.DriftRecords(ctx, len(report.Records))
	for _, r := range report.Records {
		s.logger.Warn("billing drift detected",
			zap.String("tenant_id", r.TenantID),
			zap.Time("window_start", r.WindowStart),
			zap.Time("window_end", r.WindowEnd),
			zap.String("aggregated_charge", r.AggregatedCharge.String()),
			zap.String("ledger_debited", r.LedgerDebited.String()),
			zap.String("delta", r.Delta.String()),
		)
	}
	s.logger.Info("reconciliation complete",
		zap.Time("window_start", start),
		zap.Time("window_end", end),
		zap.Int("tenants", report.TenantsCompared),
		zap.Int("drift_records", len(report.Records)),
	)
	return report, nil
}
