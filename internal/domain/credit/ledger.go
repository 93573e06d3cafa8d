package credit

import (
	"context"
	"time"
)

// Ledger is the system of record for credit movements.
//
// Credit and Debit each run as one atomic unit of work: the transaction insert and the
// balance update commit together or not at all. Two concurrent debits that together
// exceed the balance yield exactly one success and one *InsufficientBalanceError.
type Ledger interface {
	// Credit adds credit. A reused ReferenceID returns the recorded transaction unchanged.
	Credit(ctx context.Context, req CreditRequest) (*CreditTransaction, error)
	// Debit removes credit or fails with *InsufficientBalanceError. A reused ReferenceID
	// fails with *DuplicateReferenceError.
	Debit(ctx context.Context, req DebitRequest) (*CreditTransaction, error)
	Balance(ctx context.Context, tenantID string) (Credit, error)
	// MemberUsage aggregates debits by attributed user, skipping unattributed entries.
	MemberUsage(ctx context.Context, tenantID string) ([]MemberUsage, error)
	// TenantsWithBalance lists tenants whose balance is positive.
	TenantsWithBalance(ctx context.Context) ([]TenantBalance, error)
}

// LedgerReader exposes the read-only queries used by reconciliation and audit.
type LedgerReader interface {
	Transactions(ctx context.Context, filter TransactionFilter) ([]CreditTransaction, error)
	// TransactionByReference returns nil when no entry carries the reference id.
	TransactionByReference(ctx context.Context, referenceID string) (*CreditTransaction, error)
	GetAggregatedAdapterUsageDebits(ctx context.Context, start, end time.Time) ([]TenantDebit, error)
}
