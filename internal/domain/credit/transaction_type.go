package credit

import "fmt"

// TransactionType categorizes a ledger entry. The string value is the stored form.
type TransactionType string

const (
	// TransactionTypePurchase is credit bought by the tenant.
	TransactionTypePurchase TransactionType = "purchase"
	// TransactionTypeGrant is promotional or manual credit.
	TransactionTypeGrant TransactionType = "grant"
	// TransactionTypeAdapterUsage is a debit for metered provider usage.
	TransactionTypeAdapterUsage TransactionType = "adapter_usage"
	// TransactionTypeRuntime is a debit for running resources.
	TransactionTypeRuntime TransactionType = "runtime"
	// TransactionTypeDividend is the daily dividend payout.
	TransactionTypeDividend TransactionType = "dividend"
	// TransactionTypeAutoTopup is credit added by an auto top-up policy.
	TransactionTypeAutoTopup TransactionType = "auto_topup"
	// TransactionTypeRefund returns previously debited credit.
	TransactionTypeRefund TransactionType = "refund"
	// TransactionTypeAdjustment is an operator correction in either direction.
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// AllTransactionTypes returns every known transaction type.
func AllTransactionTypes() []TransactionType {
	return []TransactionType{
		TransactionTypePurchase,
		TransactionTypeGrant,
		TransactionTypeAdapterUsage,
		TransactionTypeRuntime,
		TransactionTypeDividend,
		TransactionTypeAutoTopup,
		TransactionTypeRefund,
		TransactionTypeAdjustment,
	}
}

// String returns the stored representation.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid returns true if the type is one of the known values.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePurchase,
		TransactionTypeGrant,
		TransactionTypeAdapterUsage,
		TransactionTypeRuntime,
		TransactionTypeDividend,
		TransactionTypeAutoTopup,
		TransactionTypeRefund,
		TransactionTypeAdjustment:
		return true
	}
	return false
}

// AllowsCredit reports whether the type may be used for a positive entry.
func (t TransactionType) AllowsCredit() bool {
	switch t {
	case TransactionTypePurchase,
		TransactionTypeGrant,
		TransactionTypeDividend,
		TransactionTypeAutoTopup,
		TransactionTypeRefund,
		TransactionTypeAdjustment:
		return true
	}
	return false
}

// AllowsDebit reports whether the type may be used for a negative entry.
func (t TransactionType) AllowsDebit() bool {
	switch t {
	case TransactionTypeAdapterUsage,
		TransactionTypeRuntime,
		TransactionTypeAdjustment:
		return true
	}
	return false
}

// ParseTransactionType converts a stored string into a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, s)
	}
	return t, nil
}
