package persistence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxBalanceConflicts bounds retries when the balance row changed between read and write.
const maxBalanceConflicts = 5

var errBalanceConflict = errors.New("credit balance changed concurrently")

// CreditLedgerRepository is the GORM-backed credit ledger.
//
// Every mutation locks the tenant's balance row (SELECT ... FOR UPDATE on PostgreSQL),
// then writes the new balance with a compare-and-swap on the value it read and appends
// the transaction row, all inside one database transaction.
type CreditLedgerRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// LedgerOption configures a CreditLedgerRepository.
type LedgerOption func(*CreditLedgerRepository)

// WithLedgerClock overrides the clock used for transaction timestamps.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(r *CreditLedgerRepository) {
		r.now = now
	}
}

// NewCreditLedgerRepository creates a new CreditLedgerRepository
func NewCreditLedgerRepository(db *gorm.DB, opts ...LedgerOption) *CreditLedgerRepository {
	r := &CreditLedgerRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Credit adds credit to a tenant. A reused reference id returns the recorded transaction.
func (r *CreditLedgerRepository) Credit(ctx context.Context, req credit.CreditRequest) (*credit.CreditTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ReferenceID != "" {
		existing, err := r.findByReference(r.db.WithContext(ctx), req.ReferenceID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	var out *credit.CreditTransaction
	err := r.retryConflicts(ctx, func(tx *gorm.DB) error {
		now := r.now()
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.CreditBalanceModel{TenantID: req.TenantID, LastUpdated: now}).Error; err != nil {
			return fmt.Errorf("bootstrap balance: %w", err)
		}
		current, _, err := r.lockBalance(tx, req.TenantID)
		if err != nil {
			return err
		}
		if current > math.MaxInt64-req.Amount.Raw() {
			return credit.ErrCreditOverflow
		}
		next := current + req.Amount.Raw()
		if err := r.swapBalance(tx, req.TenantID, current, next, now); err != nil {
			return err
		}
		row := &models.CreditTransactionModel{
			ID:              uuid.NewString(),
			TenantID:        req.TenantID,
			AmountRaw:       req.Amount.Raw(),
			BalanceAfterRaw: next,
			Type:            req.Type.String(),
			Description:     req.Description,
			ReferenceID:     credit.StringPtr(req.ReferenceID),
			FundingSource:   credit.StringPtr(req.FundingSource),
			CreatedAt:       now,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		out = row.ToDomain()
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) && req.ReferenceID != "" {
		// Lost a race with an identical credit; hand back the winner.
		existing, ferr := r.findByReference(r.db.WithContext(ctx), req.ReferenceID)
		if ferr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, wrapLedgerErr("credit", err)
	}
	return out, nil
}

// Debit removes credit from a tenant. It never drives the balance negative.
func (r *CreditLedgerRepository) Debit(ctx context.Context, req credit.DebitRequest) (*credit.CreditTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *credit.CreditTransaction
	err := r.retryConflicts(ctx, func(tx *gorm.DB) error {
		if req.ReferenceID != "" {
			existing, err := r.findByReference(tx, req.ReferenceID)
			if err != nil {
				return err
			}
			if existing != nil {
				return &credit.DuplicateReferenceError{ReferenceID: req.ReferenceID, Existing: existing}
			}
		}

		// A missing row reads as zero, so the insufficient-balance branch covers it.
		current, _, err := r.lockBalance(tx, req.TenantID)
		if err != nil {
			return err
		}
		amount := req.Amount.Raw()
		if current < amount {
			if !req.AllowPartial || current <= 0 {
				return &credit.InsufficientBalanceError{
					TenantID:  req.TenantID,
					Available: credit.FromRaw(current),
					Requested: req.Amount,
				}
			}
			amount = current
		}

		now := r.now()
		next := current - amount
		if err := r.swapBalance(tx, req.TenantID, current, next, now); err != nil {
			return err
		}
		row := &models.CreditTransactionModel{
			ID:               uuid.NewString(),
			TenantID:         req.TenantID,
			AmountRaw:        -amount,
			BalanceAfterRaw:  next,
			Type:             req.Type.String(),
			Description:      req.Description,
			ReferenceID:      credit.StringPtr(req.ReferenceID),
			AttributedUserID: credit.StringPtr(req.AttributedUserID),
			CreatedAt:        now,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		out = row.ToDomain()
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) && req.ReferenceID != "" {
		existing, _ := r.findByReference(r.db.WithContext(ctx), req.ReferenceID)
		return nil, &credit.DuplicateReferenceError{ReferenceID: req.ReferenceID, Existing: existing}
	}
	if err != nil {
		return nil, wrapLedgerErr("debit", err)
	}
	return out, nil
}

// Balance returns the tenant's balance, zero when the tenant has no ledger activity.
func (r *CreditLedgerRepository) Balance(ctx context.Context, tenantID string) (credit.Credit, error) {
	if tenantID == "" {
		return credit.Zero, credit.ErrTenantRequired
	}
	var row models.CreditBalanceModel
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return credit.Zero, nil
	}
	if err != nil {
		return credit.Zero, fmt.Errorf("load balance: %w", err)
	}
	return credit.FromRaw(row.BalanceRaw), nil
}

type memberUsageRow struct {
	UserID           string
	TotalDebit       int64
	TransactionCount int64
}

// MemberUsage sums debits per attributed user, largest first.
func (r *CreditLedgerRepository) MemberUsage(ctx context.Context, tenantID string) ([]credit.MemberUsage, error) {
	if tenantID == "" {
		return nil, credit.ErrTenantRequired
	}
	var rows []memberUsageRow
	err := r.db.WithContext(ctx).Model(&models.CreditTransactionModel{}).
		Select("attributed_user_id AS user_id, SUM(-amount_raw) AS total_debit, COUNT(*) AS transaction_count").
		Where("tenant_id = ? AND amount_raw < 0 AND attributed_user_id IS NOT NULL", tenantID).
		Group("attributed_user_id").
		Order("total_debit DESC, user_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("member usage: %w", err)
	}
	out := make([]credit.MemberUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, credit.MemberUsage{
			UserID:           row.UserID,
			TotalDebit:       credit.FromRaw(row.TotalDebit),
			TransactionCount: row.TransactionCount,
		})
	}
	return out, nil
}

// TenantsWithBalance lists every tenant with a positive balance, ordered by tenant id.
func (r *CreditLedgerRepository) TenantsWithBalance(ctx context.Context) ([]credit.TenantBalance, error) {
	var rows []models.CreditBalanceModel
	err := r.db.WithContext(ctx).
		Where("balance_raw > 0").
		Order("tenant_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("tenants with balance: %w", err)
	}
	out := make([]credit.TenantBalance, 0, len(rows))
	for _, row := range rows {
		out = append(out, credit.TenantBalance{TenantID: row.TenantID, Balance: credit.FromRaw(row.BalanceRaw)})
	}
	return out, nil
}

// Transactions returns ledger entries newest first.
func (r *CreditLedgerRepository) Transactions(ctx context.Context, filter credit.TransactionFilter) ([]credit.CreditTransaction, error) {
	q := r.db.WithContext(ctx).Model(&models.CreditTransactionModel{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type.String())
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	var rows []models.CreditTransactionModel
	sortField := ValidateSortField(filter.OrderBy, TransactionSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	q = q.Order(fmt.Sprintf("%s %s, id %s", sortField, sortOrder, sortOrder))
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]credit.CreditTransaction, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out, nil
}

// TransactionByReference returns the entry recorded under referenceID, or nil when none exists.
func (r *CreditLedgerRepository) TransactionByReference(ctx context.Context, referenceID string) (*credit.CreditTransaction, error) {
	return r.findByReference(r.db.WithContext(ctx), referenceID)
}

// GetAggregatedAdapterUsageDebits sums adapter usage debits per tenant over [start, end).
func (r *CreditLedgerRepository) GetAggregatedAdapterUsageDebits(ctx context.Context, start, end time.Time) ([]credit.TenantDebit, error) {
	var rows []tenantSumRow
	err := r.db.WithContext(ctx).Model(&models.CreditTransactionModel{}).
		Select("tenant_id, SUM(-amount_raw) AS total").
		Where("type = ? AND amount_raw < 0 AND created_at >= ? AND created_at < ?",
			credit.TransactionTypeAdapterUsage.String(), start.UTC(), end.UTC()).
		Group("tenant_id").
		Order("tenant_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate adapter usage debits: %w", err)
	}
	out := make([]credit.TenantDebit, 0, len(rows))
	for _, row := range rows {
		out = append(out, credit.TenantDebit{TenantID: row.TenantID, TotalDebit: credit.FromRaw(row.Total)})
	}
	return out, nil
}

// retryConflicts runs fn in a transaction, retrying when the balance swap lost a race.
func (r *CreditLedgerRepository) retryConflicts(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxBalanceConflicts; attempt++ {
		err = r.db.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, errBalanceConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// lockBalance reads the balance row under a row lock. found is false when the tenant has no row.
func (r *CreditLedgerRepository) lockBalance(tx *gorm.DB, tenantID string) (int64, bool, error) {
	var row models.CreditBalanceModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lock balance: %w", err)
	}
	return row.BalanceRaw, true, nil
}

func (r *CreditLedgerRepository) swapBalance(tx *gorm.DB, tenantID string, from, to int64, now time.Time) error {
	res := tx.Model(&models.CreditBalanceModel{}).
		Where("tenant_id = ? AND balance_raw = ?", tenantID, from).
		Updates(map[string]any{"balance_raw": to, "last_updated": now})
	if res.Error != nil {
		return fmt.Errorf("update balance: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return errBalanceConflict
	}
	return nil
}

func (r *CreditLedgerRepository) findByReference(db *gorm.DB, referenceID string) (*credit.CreditTransaction, error) {
	var row models.CreditTransactionModel
	err := db.Where("reference_id = ?", referenceID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction by reference: %w", err)
	}
	return row.ToDomain(), nil
}

// wrapLedgerErr adds context to storage failures and passes domain errors through untouched.
func wrapLedgerErr(op string, err error) error {
	var ibe *credit.InsufficientBalanceError
	var dre *credit.DuplicateReferenceError
	if errors.As(err, &ibe) || errors.As(err, &dre) || errors.Is(err, credit.ErrCreditOverflow) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Interface compliance checks
var (
	_ credit.Ledger       = (*CreditLedgerRepository)(nil)
	_ credit.LedgerReader = (*CreditLedgerRepository)(nil)
)
