package credit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionType(t *testing.T) {
	for _, tt := range AllTransactionTypes() {
		t.Run(tt.String(), func(t *testing.T) {
			assert.True(t, tt.IsValid())
			assert.True(t, tt.AllowsCredit() || tt.AllowsDebit())
			parsed, err := ParseTransactionType(tt.String())
			require.NoError(t, err)
			assert.Equal(t, tt, parsed)
		})
	}

	_, err := ParseTransactionType("bonus")
	assert.ErrorIs(t, err, ErrInvalidTransactionType)
	assert.True(t, TransactionTypeAdjustment.AllowsCredit())
	assert.True(t, TransactionTypeAdjustment.AllowsDebit())
	assert.False(t, TransactionTypeAdapterUsage.AllowsCredit())
	assert.False(t, TransactionTypePurchase.AllowsDebit())
}

func TestCreditRequestValidate(t *testing.T) {
	valid := CreditRequest{TenantID: "t1", Amount: FromRaw(1), Type: TransactionTypeGrant}
	require.NoError(t, valid.Validate())

	noTenant := valid
	noTenant.TenantID = " "
	assert.ErrorIs(t, noTenant.Validate(), ErrTenantRequired)

	zero := valid
	zero.Amount = Zero
	assert.ErrorIs(t, zero.Validate(), ErrInvalidAmount)

	wrongKind := valid
	wrongKind.Type = TransactionTypeRuntime
	assert.ErrorIs(t, wrongKind.Validate(), ErrInvalidTransactionType)
}

func TestDebitRequestValidate(t *testing.T) {
	valid := DebitRequest{TenantID: "t1", Amount: FromRaw(1), Type: TransactionTypeAdapterUsage}
	require.NoError(t, valid.Validate())

	negative := valid
	negative.Amount = FromRaw(-5)
	assert.ErrorIs(t, negative.Validate(), ErrInvalidAmount)

	wrongKind := valid
	wrongKind.Type = TransactionTypeDividend
	assert.ErrorIs(t, wrongKind.Validate(), ErrInvalidTransactionType)
}

func TestInsufficientBalanceError(t *testing.T) {
	var err error = &InsufficientBalanceError{TenantID: "t1", Available: FromRaw(40), Requested: FromRaw(50)}
	wrapped := fmt.Errorf("charge failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInsufficientBalance))
	assert.False(t, errors.Is(wrapped, ErrDuplicateReference))

	ibe, ok := AsInsufficientBalance(wrapped)
	require.True(t, ok)
	assert.Equal(t, FromRaw(40), ibe.Available)
	assert.Equal(t, FromRaw(50), ibe.Requested)
	assert.Contains(t, err.Error(), "available 40, requested 50")
}

func TestDuplicateReferenceError(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &DuplicateReferenceError{ReferenceID: "ref-1"})
	assert.ErrorIs(t, err, ErrDuplicateReference)
	_, ok := AsInsufficientBalance(err)
	assert.False(t, ok)
}

func TestCreditTransactionDebited(t *testing.T) {
	debit := &CreditTransaction{Amount: FromRaw(-60)}
	credit := &CreditTransaction{Amount: FromRaw(100)}

	assert.True(t, debit.IsDebit())
	assert.Equal(t, FromRaw(60), debit.Debited())
	assert.False(t, credit.IsDebit())
	assert.Equal(t, Zero, credit.Debited())
}

func TestDateOnly(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := DateOnly(time.Date(2026, 3, 2, 3, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)
	assert.Nil(t, StringPtr(""))
	assert.Equal(t, "x", *StringPtr("x"))
}
