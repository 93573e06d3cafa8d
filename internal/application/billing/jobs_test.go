package billing

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/infrastructure/config"
	"github.com/erp/billing/internal/infrastructure/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStores struct {
	ledger    *persistence.CreditLedgerRepository
	dividends *persistence.DividendRepository
}

func setupStores(t *testing.T) *testStores {
	t.Helper()
	db, err := persistence.NewDatabase(&config.DatabaseConfig{
		Driver:      "sqlite",
		SQLitePath:  filepath.Join(t.TempDir(), "billing.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &testStores{
		ledger:    persistence.NewCreditLedgerRepository(db.DB),
		dividends: persistence.NewDividendRepository(db.DB),
	}
}

func fund(t *testing.T, ledger credit.Ledger, tenant string, units int64) {
	t.Helper()
	_, err := ledger.Credit(context.Background(), credit.CreditRequest{
		TenantID: tenant,
		Amount:   credit.FromUnits(units),
		Type:     credit.TransactionTypePurchase,
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, ledger credit.Ledger, tenant string) credit.Credit {
	t.Helper()
	b, err := ledger.Balance(context.Background(), tenant)
	require.NoError(t, err)
	return b
}

type resourceMap map[string]int64

func (m resourceMap) ActiveResources(_ context.Context, tenantID string) (int64, error) {
	if n, ok := m[tenantID]; ok {
		return n, nil
	}
	return 0, errors.New("tenant unknown to platform")
}

type suspendRecorder struct {
	mu        sync.Mutex
	suspended []string
}

func (r *suspendRecorder) suspend(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suspended = append(r.suspended, tenantID)
	return nil
}

var runAt = time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

func TestRuntimeDeduction_DebitsAndSuspends(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()
	fund(t, s.ledger, "rich", 100)
	fund(t, s.ledger, "poor", 3)
	fund(t, s.ledger, "idle", 10)
	fund(t, s.ledger, "ghost", 10)

	rec := &suspendRecorder{}
	job := NewRuntimeDeductionJob(s.ledger,
		resourceMap{"rich": 2, "poor": 5, "idle": 0},
		rec.suspend,
		RuntimeDeductionConfig{Interval: time.Hour, UnitCost: credit.FromUnits(1)},
		nil, nil)

	summary, err := job.Run(ctx, runAt)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Charged)
	assert.Equal(t, 1, summary.Suspended)
	assert.Equal(t, 1, summary.Skipped, "idle tenant")
	assert.Equal(t, 1, summary.Failed, "ghost tenant")

	assert.Equal(t, credit.FromUnits(98), balanceOf(t, s.ledger, "rich"))
	assert.Equal(t, credit.Zero, balanceOf(t, s.ledger, "poor"))
	assert.Equal(t, credit.FromUnits(10), balanceOf(t, s.ledger, "ghost"))
	assert.Equal(t, []string{"poor"}, rec.suspended)

	tx, err := s.ledger.TransactionByReference(ctx, job.ReferenceID("poor", runAt))
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, credit.FromUnits(3), tx.Debited())
	assert.Equal(t, credit.TransactionTypeRuntime, tx.Type)
}

func TestRuntimeDeduction_OncePerPeriod(t *testing.T) {
	s := setupStores(t)
	fund(t, s.ledger, "t1", 100)

	job := NewRuntimeDeductionJob(s.ledger, resourceMap{"t1": 1}, nil,
		RuntimeDeductionConfig{Interval: time.Hour, UnitCost: credit.FromUnits(5)}, nil, nil)

	_, err := job.Run(context.Background(), runAt)
	require.NoError(t, err)
	again, err := job.Run(context.Background(), runAt.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, credit.FromUnits(95), balanceOf(t, s.ledger, "t1"))

	_, err = job.Run(context.Background(), runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, credit.FromUnits(90), balanceOf(t, s.ledger, "t1"))

	assert.Equal(t, "runtime:t1:1772359200", job.ReferenceID("t1", runAt))
}

func TestRuntimeDeduction_ChargeOverflowFailsTenant(t *testing.T) {
	s := setupStores(t)
	fund(t, s.ledger, "t1", 100)

	rec := &suspendRecorder{}
	job := NewRuntimeDeductionJob(s.ledger, resourceMap{"t1": math.MaxInt64 / 2}, rec.suspend,
		RuntimeDeductionConfig{Interval: time.Hour, UnitCost: credit.FromUnits(1)}, nil, nil)

	summary, err := job.Run(context.Background(), runAt)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Charged)
	assert.Empty(t, rec.suspended)
	assert.Equal(t, credit.FromUnits(100), balanceOf(t, s.ledger, "t1"))

	tx, err := s.ledger.TransactionByReference(context.Background(), job.ReferenceID("t1", runAt))
	require.NoError(t, err)
	assert.Nil(t, tx)
}

type stubUsers map[string]int64

func (u stubUsers) ActiveUsers(context.Context, time.Time) (map[string]int64, error) {
	return u, nil
}

func TestDividend_ProportionalAndOncePerDay(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	job := NewDividendJob(s.ledger, s.dividends,
		StaticDividendPool(credit.FromUnits(100)),
		stubUsers{"a": 1, "b": 2, "none": 0},
		nil)

	summary, err := job.Run(ctx, runAt)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Charged)

	// floor(100 * 1 / 3) and floor(100 * 2 / 3) in raw units
	assert.Equal(t, credit.FromRaw(33_333_333), balanceOf(t, s.ledger, "a"))
	assert.Equal(t, credit.FromRaw(66_666_666), balanceOf(t, s.ledger, "b"))
	assert.Equal(t, credit.Zero, balanceOf(t, s.ledger, "none"))

	again, err := job.Run(ctx, runAt.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, again.Skipped)
	assert.Zero(t, again.Charged)
	assert.Equal(t, credit.FromRaw(33_333_333), balanceOf(t, s.ledger, "a"))

	rows, err := s.dividends.ListByDate(ctx, runAt)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	next, err := job.Run(ctx, runAt.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Charged)
}

func TestDividend_RecoversAfterCrashBetweenCreditAndRecord(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()

	// the credit landed but the distribution row was never written
	_, err := s.ledger.Credit(ctx, credit.CreditRequest{
		TenantID:    "a",
		Amount:      credit.FromUnits(100),
		Type:        credit.TransactionTypeDividend,
		ReferenceID: DividendReferenceID("a", runAt),
	})
	require.NoError(t, err)

	job := NewDividendJob(s.ledger, s.dividends, StaticDividendPool(credit.FromUnits(100)), stubUsers{"a": 1}, nil)
	summary, err := job.Run(ctx, runAt)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Charged)
	assert.Equal(t, credit.FromUnits(100), balanceOf(t, s.ledger, "a"), "no double payout")

	exists, err := s.dividends.Exists(ctx, "a", runAt)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDividend_EmptyPool(t *testing.T) {
	s := setupStores(t)
	job := NewDividendJob(s.ledger, s.dividends, StaticDividendPool(0), stubUsers{"a": 1}, nil)
	summary, err := job.Run(context.Background(), runAt)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
}

type stubPolicies []TopupPolicy

func (p stubPolicies) TopupPolicies(context.Context) ([]TopupPolicy, error) {
	return p, nil
}

type recordingCharger struct {
	keys []string
	err  error
}

func (c *recordingCharger) Charge(_ context.Context, tenantID string, _ credit.Credit, key string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.keys = append(c.keys, key)
	return "ch_" + tenantID, nil
}

func TestAutoTopup_OncePerDayBelowThreshold(t *testing.T) {
	s := setupStores(t)
	ctx := context.Background()
	fund(t, s.ledger, "low", 1)
	fund(t, s.ledger, "high", 50)

	charger := &recordingCharger{}
	job := NewAutoTopupJob(s.ledger, s.ledger, stubPolicies{
		{TenantID: "low", Enabled: true, Threshold: credit.FromUnits(5), Amount: credit.FromUnits(20)},
		{TenantID: "high", Enabled: true, Threshold: credit.FromUnits(5), Amount: credit.FromUnits(20)},
		{TenantID: "off", Enabled: false, Threshold: credit.FromUnits(5), Amount: credit.FromUnits(20)},
	}, charger, nil)

	summary, err := job.Run(ctx, runAt)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Charged)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, credit.FromUnits(21), balanceOf(t, s.ledger, "low"))
	assert.Equal(t, []string{"auto_topup:low:2026-03-01"}, charger.keys)

	tx, err := s.ledger.TransactionByReference(ctx, TopupReferenceID("low", runAt))
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.NotNil(t, tx.FundingSource)
	assert.Equal(t, "ch_low", *tx.FundingSource)

	// spend it down again the same day: no second top-up
	_, err = s.ledger.Debit(ctx, credit.DebitRequest{TenantID: "low", Amount: credit.FromUnits(20), Type: credit.TransactionTypeAdapterUsage})
	require.NoError(t, err)
	again, err := job.Run(ctx, runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, again.Charged)
	assert.Len(t, charger.keys, 1)
}

func TestAutoTopup_ChargeFailureIsIsolated(t *testing.T) {
	s := setupStores(t)
	charger := &recordingCharger{err: errors.New("card declined")}
	job := NewAutoTopupJob(s.ledger, s.ledger, stubPolicies{
		{TenantID: "t1", Enabled: true, Threshold: credit.FromUnits(5), Amount: credit.FromUnits(20)},
		{TenantID: "t2", Enabled: true, Threshold: credit.FromUnits(5), Amount: credit.FromUnits(20)},
	}, charger, nil)

	summary, err := job.Run(context.Background(), runAt)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, credit.Zero, balanceOf(t, s.ledger, "t1"))
}
