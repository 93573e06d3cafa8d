package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/erp/billing/internal/application/ledger"
	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/infrastructure/persistence"
	"github.com/erp/billing/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLedger(t *testing.T) (*TestDB, *ledger.Service) {
	t.Helper()
	tdb := NewTestDB(t)
	repo := persistence.NewCreditLedgerRepository(tdb.DB)
	return tdb, ledger.NewService(repo, zap.NewNop(), telemetry.NewNoopBillingMetrics())
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	_, svc := newLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, credit.CreditRequest{
		TenantID: "acme",
		Amount:   credit.FromUnits(10),
		Type:     credit.TransactionTypePurchase,
	})
	require.NoError(t, err)

	const workers = 40
	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, credit.DebitRequest{
				TenantID:    "acme",
				Amount:      credit.FromUnits(1),
				Type:        credit.TransactionTypeAdapterUsage,
				ReferenceID: fmt.Sprintf("usage-%d", i),
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, credit.ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(workers-10), insufficient.Load())

	balance, err := svc.Balance(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, credit.Zero, balance)

	txs, err := svc.Transactions(ctx, credit.TransactionFilter{TenantID: "acme", Limit: 100})
	require.NoError(t, err)
	var sum credit.Credit
	for _, tx := range txs {
		sum += tx.Amount
		assert.False(t, tx.BalanceAfter.IsNegative(), "balance after %s went negative", tx.ID)
	}
	assert.Equal(t, balance, sum, "balance must equal the sum of ledger entries")
}

func TestLedger_ConcurrentCreditsWithSameReferenceApplyOnce(t *testing.T) {
	_, svc := newLedger(t)
	ctx := context.Background()

	const workers = 16
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := svc.Credit(ctx, credit.CreditRequest{
				TenantID:    "acme",
				Amount:      credit.FromUnits(5),
				Type:        credit.TransactionTypeGrant,
				ReferenceID: "grant-2026-10",
			})
			if assert.NoError(t, err) {
				ids <- tx.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	distinct := map[string]struct{}{}
	for id := range ids {
		distinct[id] = struct{}{}
	}
	assert.Len(t, distinct, 1, "every caller must observe the same transaction")

	balance, err := svc.Balance(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, credit.FromUnits(5), balance)
}

func TestLedger_ConcurrentDebitsWithSameReferenceApplyOnce(t *testing.T) {
	_, svc := newLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, credit.CreditRequest{
		TenantID: "acme",
		Amount:   credit.FromUnits(100),
		Type:     credit.TransactionTypePurchase,
	})
	require.NoError(t, err)

	const workers = 10
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, credit.DebitRequest{
				TenantID:    "acme",
				Amount:      credit.FromUnits(1),
				Type:        credit.TransactionTypeRuntime,
				ReferenceID: "runtime:acme:2026-10-19T10",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, credit.ErrDuplicateReference):
				dup.Add(1)
			default:
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(workers-1), dup.Load())

	balance, err := svc.Balance(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, credit.FromUnits(99), balance)
}

func TestLedger_PartialDebitDrainsToZero(t *testing.T) {
	_, svc := newLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, credit.CreditRequest{
		TenantID: "acme",
		Amount:   credit.FromUnits(3),
		Type:     credit.TransactionTypePurchase,
	})
	require.NoError(t, err)

	tx, err := svc.Debit(ctx, credit.DebitRequest{
		TenantID:         "acme",
		Amount:           credit.FromUnits(5),
		Type:             credit.TransactionTypeAdapterUsage,
		AllowPartial:     true,
		AttributedUserID: "u-1",
	})
	require.NoError(t, err)
	assert.Equal(t, credit.FromUnits(-3), tx.Amount)
	assert.Equal(t, credit.Zero, tx.BalanceAfter)

	_, err = svc.Debit(ctx, credit.DebitRequest{
		TenantID:     "acme",
		Amount:       credit.FromUnits(1),
		Type:         credit.TransactionTypeAdapterUsage,
		AllowPartial: true,
	})
	var insufficient *credit.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, credit.Zero, insufficient.Available)

	usage, err := svc.MemberUsage(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "u-1", usage[0].UserID)
}
