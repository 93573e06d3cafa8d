package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDividendRepository_RecordOncePerTenantPerDay(t *testing.T) {
	repo := NewDividendRepository(setupTestDB(t))
	ctx := context.Background()
	morning := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	exists, err := repo.Exists(ctx, "t1", morning)
	require.NoError(t, err)
	assert.False(t, exists)

	first := &credit.DividendDistribution{
		TenantID:         "t1",
		DistributionDate: morning,
		Amount:           credit.MustParseCredit("12.5"),
		ActiveUsers:      3,
		TransactionID:    "tx-1",
		CreatedAt:        morning,
	}
	inserted, err := repo.Record(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, first.ID)

	inserted, err = repo.Record(ctx, &credit.DividendDistribution{
		TenantID:         "t1",
		DistributionDate: morning.Add(10 * time.Hour),
		Amount:           credit.MustParseCredit("99"),
		TransactionID:    "tx-2",
		CreatedAt:        morning,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	exists, err = repo.Exists(ctx, "t1", morning.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = repo.Record(ctx, &credit.DividendDistribution{
		TenantID:         "t2",
		DistributionDate: morning,
		Amount:           credit.MustParseCredit("1"),
		TransactionID:    "tx-3",
		CreatedAt:        morning,
	})
	require.NoError(t, err)

	list, err := repo.ListByDate(ctx, morning)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].TenantID)
	assert.Equal(t, credit.MustParseCredit("12.5"), list[0].Amount)
	assert.Equal(t, int64(3), list[0].ActiveUsers)
	assert.True(t, list[0].DistributionDate.Equal(credit.DateOnly(morning)))
	assert.Equal(t, "t2", list[1].TenantID)
}
