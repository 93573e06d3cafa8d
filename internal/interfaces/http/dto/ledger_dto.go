package dto

import (
	"time"

	"github.com/erp/billing/internal/domain/credit"
)

// CreditRequest is the body of POST /tenants/:tenant/credits.
// Amount is a decimal string such as "12.50".
type CreditRequest struct {
	Amount        string `json:"amount" binding:"required"`
	Type          string `json:"type" binding:"required"`
	Description   string `json:"description" binding:"max=512"`
	ReferenceID   string `json:"referenceId" binding:"max=255"`
	FundingSource string `json:"fundingSource" binding:"max=255"`
}

// DebitRequest is the body of POST /tenants/:tenant/debits.
type DebitRequest struct {
	Amount       string `json:"amount" binding:"required"`
	Type         string `json:"type" binding:"required"`
	Description  string `json:"description" binding:"max=512"`
	ReferenceID  string `json:"referenceId" binding:"max=255"`
	AllowPartial bool   `json:"allowPartial"`
	UserID       string `json:"userId" binding:"max=255"`
}

// TransactionQuery filters GET /tenants/:tenant/transactions.
type TransactionQuery struct {
	Type   string    `form:"type"`
	From   time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit" binding:"omitempty,min=1,max=1000"`
	Offset int       `form:"offset" binding:"omitempty,min=0"`
	Sort   string    `form:"sort"`
	Order  string    `form:"order" binding:"omitempty,oneof=asc desc ASC DESC"`
}

// BalanceResponse shows a balance both as raw units and as a display string.
type BalanceResponse struct {
	TenantID string        `json:"tenantId"`
	Balance  credit.Credit `json:"balance"`
	Display  string        `json:"display"`
}

// NewBalanceResponse builds a BalanceResponse.
func NewBalanceResponse(tenantID string, balance credit.Credit) BalanceResponse {
	return BalanceResponse{TenantID: tenantID, Balance: balance, Display: balance.StringFixed(2)}
}

// InsufficientBalanceDetails accompanies a 402 response.
type InsufficientBalanceDetails struct {
	Available credit.Credit `json:"available"`
	Requested credit.Credit `json:"requested"`
}

// SummaryQuery filters GET /usage-summaries.
type SummaryQuery struct {
	Tenant string    `form:"tenant"`
	From   time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit" binding:"omitempty,min=1,max=5000"`
}

// ReconciliationQuery selects the window of GET /reconciliation. Both bounds default to
// the previous UTC day.
type ReconciliationQuery struct {
	Start time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End   time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
}
