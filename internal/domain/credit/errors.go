package credit

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance matches every *InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicateReference matches every *DuplicateReferenceError.
	ErrDuplicateReference = errors.New("duplicate reference id")

	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrTenantRequired         = errors.New("tenant id is required")
)

// InsufficientBalanceError is returned by a debit that would overdraw the tenant.
// The balance is left untouched when it is returned.
type InsufficientBalanceError struct {
	TenantID  string
	Available Credit
	Requested Credit
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for tenant %s: available %d, requested %d",
		e.TenantID, e.Available.Raw(), e.Requested.Raw())
}

// Is makes errors.Is(err, ErrInsufficientBalance) work.
func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// DuplicateReferenceError signals a replayed operation whose reference id is already recorded.
type DuplicateReferenceError struct {
	ReferenceID string
	Existing    *CreditTransaction
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("reference id %q already recorded", e.ReferenceID)
}

// Is makes errors.Is(err, ErrDuplicateReference) work.
func (e *DuplicateReferenceError) Is(target error) bool {
	return target == ErrDuplicateReference
}

// AsInsufficientBalance extracts an *InsufficientBalanceError from err.
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var ibe *InsufficientBalanceError
	if errors.As(err, &ibe) {
		return ibe, true
	}
	return nil, false
}
