// Package ledger exposes the credit ledger to the rest of the service with logging,
// metrics and tracing around every movement.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/erp/billing/internal/application/ledger"

// Store is the persistence contract the service decorates.
type Store interface {
	credit.Ledger
	credit.LedgerReader
}

// Service implements credit.Ledger and credit.LedgerReader on top of a Store.
type Service struct {
	store   Store
	logger  *zap.Logger
	metrics *telemetry.BillingMetrics
	tracer  trace.Tracer
}

// NewService creates a new ledger Service
func NewService(store Store, logger *zap.Logger, metrics *telemetry.BillingMetrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		logger:  logger.Named("ledger"),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Credit adds credit to a tenant. A reused reference id returns the recorded entry.
func (s *Service) Credit(ctx context.Context, req credit.CreditRequest) (*credit.CreditTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Credit", trace.WithAttributes(
		telemetry.AttrTenantID.String(req.TenantID),
		telemetry.AttrTransactionType.String(req.Type.String()),
	))
	defer span.End()

	tx, err := s.store.Credit(ctx, req)
	if err != nil {
		recordError(span, err)
		s.logger.Error("credit failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("reference_id", req.ReferenceID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.LedgerCredit(ctx, req.Type.String())
	s.logger.Info("credited",
		zap.String("tenant_id", tx.TenantID),
		zap.String("transaction_id", tx.ID),
		zap.String("type", tx.Type.String()),
		zap.String("amount", tx.Amount.String()),
		zap.String("balance_after", tx.BalanceAfter.String()),
		zap.String("reference_id", req.ReferenceID),
	)
	return tx, nil
}

// Debit removes credit from a tenant or fails with *credit.InsufficientBalanceError.
func (s *Service) Debit(ctx context.Context, req credit.DebitRequest) (*credit.CreditTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Debit", trace.WithAttributes(
		telemetry.AttrTenantID.String(req.TenantID),
		telemetry.AttrTransactionType.String(req.Type.String()),
		attribute.Bool("ledger.allow_partial", req.AllowPartial),
	))
	defer span.End()

	tx, err := s.store.Debit(ctx, req)
	if err != nil {
		if ibe, ok := credit.AsInsufficientBalance(err); ok {
			s.metrics.InsufficientBalance(ctx, req.Type.String())
			span.SetAttributes(attribute.Bool("ledger.insufficient", true))
			s.logger.Info("debit refused: insufficient balance",
				zap.String("tenant_id", req.TenantID),
				zap.String("available", ibe.Available.String()),
				zap.String("requested", ibe.Requested.String()),
			)
			return nil, err
		}
		if errors.Is(err, credit.ErrDuplicateReference) {
			s.logger.Debug("debit reference already recorded",
				zap.String("tenant_id", req.TenantID),
				zap.String("reference_id", req.ReferenceID),
			)
			return nil, err
		}
		recordError(span, err)
		s.logger.Error("debit failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("reference_id", req.ReferenceID),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.LedgerDebit(ctx, req.Type.String())
	fields := []zap.Field{
		zap.String("tenant_id", tx.TenantID),
		zap.String("transaction_id", tx.ID),
		zap.String("type", tx.Type.String()),
		zap.String("amount", tx.Debited().String()),
		zap.String("balance_after", tx.BalanceAfter.String()),
		zap.String("reference_id", req.ReferenceID),
	}
	if tx.Debited() < req.Amount {
		s.logger.Warn("partial debit", append(fields, zap.String("requested", req.Amount.String()))...)
	} else {
		s.logger.Info("debited", fields...)
	}
	return tx, nil
}

// Balance returns the tenant balance, zero for unknown tenants.
func (s *Service) Balance(ctx context.Context, tenantID string) (credit.Credit, error) {
	return s.store.Balance(ctx, tenantID)
}

// MemberUsage aggregates debits by attributed user.
func (s *Service) MemberUsage(ctx context.Context, tenantID string) ([]credit.MemberUsage, error) {
	return s.store.MemberUsage(ctx, tenantID)
}

// TenantsWithBalance lists tenants with a positive balance.
func (s *Service) TenantsWithBalance(ctx context.Context) ([]credit.TenantBalance, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.TenantsWithBalance")
	defer span.End()

	tenants, err := s.store.TenantsWithBalance(ctx)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("ledger.tenants", len(tenants)))
	return tenants, nil
}

// Transactions lists ledger entries for audit.
func (s *Service) Transactions(ctx context.Context, filter credit.TransactionFilter) ([]credit.CreditTransaction, error) {
	return s.store.Transactions(ctx, filter)
}

// TransactionByReference looks up an entry by its idempotency key.
func (s *Service) TransactionByReference(ctx context.Context, referenceID string) (*credit.CreditTransaction, error) {
	return s.store.TransactionByReference(ctx, referenceID)
}

// GetAggregatedAdapterUsageDebits sums adapter usage debits per tenant in [start, end).
func (s *Service) GetAggregatedAdapterUsageDebits(ctx context.Context, start, end time.Time) ([]credit.TenantDebit, error) {
	return s.store.GetAggregatedAdapterUsageDebits(ctx, start, end)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Interface compliance checks
var (
	_ credit.Ledger       = (*Service)(nil)
	_ credit.LedgerReader = (*Service)(nil)
)
