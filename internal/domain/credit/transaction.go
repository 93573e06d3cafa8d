package credit

import (
	"strings"
	"time"
)

// CreditTransaction is an immutable ledger entry.
// Amount is positive for credits and negative for debits.
type CreditTransaction struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenantId"`
	Amount           Credit          `json:"amount"`
	BalanceAfter     Credit          `json:"balanceAfter"`
	Type             TransactionType `json:"type"`
	Description      string          `json:"description,omitempty"`
	ReferenceID      *string         `json:"referenceId,omitempty"`
	FundingSource    *string         `json:"fundingSource,omitempty"`
	AttributedUserID *string         `json:"attributedUserId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// IsDebit reports whether the entry removed credit.
func (t *CreditTransaction) IsDebit() bool {
	return t.Amount < 0
}

// Debited returns the positive amount removed by a debit entry, or zero for credits.
func (t *CreditTransaction) Debited() Credit {
	if t.Amount < 0 {
		return -t.Amount
	}
	return Zero
}

// CreditBalance is the materialized per-tenant balance.
type CreditBalance struct {
	TenantID    string
	Balance     Credit
	LastUpdated time.Time
}

// CreditRequest describes a credit operation.
type CreditRequest struct {
	TenantID      string
	Amount        Credit
	Type          TransactionType
	Description   string
	ReferenceID   string
	FundingSource string
}

// Validate checks the request before it reaches storage.
func (r CreditRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return ErrTenantRequired
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !r.Type.IsValid() || !r.Type.AllowsCredit() {
		return ErrInvalidTransactionType
	}
	return nil
}

// DebitRequest describes a debit operation.
// With AllowPartial set, a debit larger than the positive balance takes exactly the balance instead of failing.
type DebitRequest struct {
	TenantID         string
	Amount           Credit
	Type             TransactionType
	Description      string
	ReferenceID      string
	AllowPartial     bool
	AttributedUserID string
}

// Validate checks the request before it reaches storage.
func (r DebitRequest) Validate() error {
	if strings.TrimSpace(r.TenantID) == "" {
		return ErrTenantRequired
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !r.Type.IsValid() || !r.Type.AllowsDebit() {
		return ErrInvalidTransactionType
	}
	return nil
}

// MemberUsage is the debit total attributed to one user of a tenant.
type MemberUsage struct {
	UserID           string `json:"userId"`
	TotalDebit       Credit `json:"totalDebit"`
	TransactionCount int64  `json:"transactionCount"`
}

// TenantBalance pairs a tenant with its balance.
type TenantBalance struct {
	TenantID string `json:"tenantId"`
	Balance  Credit `json:"balance"`
}

// TenantDebit is the total adapter usage debited from a tenant in a time range.
type TenantDebit struct {
	TenantID   string `json:"tenantId"`
	TotalDebit Credit `json:"totalDebit"`
}

// TransactionFilter narrows audit reads.
type TransactionFilter struct {
	TenantID string
	Type     TransactionType
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
	// OrderBy and OrderDir are validated by the store; unknown values fall back to newest first.
	OrderBy  string
	OrderDir string
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
