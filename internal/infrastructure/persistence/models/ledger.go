package models

import (
	"time"

	"github.com/erp/billing/internal/domain/credit"
)

// CreditTransactionModel is the persistence model for an append-only ledger entry.
type CreditTransactionModel struct {
	ID               string    `gorm:"type:varchar(64);primaryKey"`
	TenantID         string    `gorm:"type:varchar(64);not null;index:idx_credit_tx_tenant_created,priority:1"`
	AmountRaw        int64     `gorm:"not null"`
	BalanceAfterRaw  int64     `gorm:"not null"`
	Type             string    `gorm:"type:varchar(32);not null;index:idx_credit_tx_type_created,priority:1"`
	Description      string    `gorm:"type:text"`
	ReferenceID      *string   `gorm:"type:varchar(191);uniqueIndex:uq_credit_tx_reference"`
	FundingSource    *string   `gorm:"type:varchar(64)"`
	AttributedUserID *string   `gorm:"type:varchar(64);index"`
	CreatedAt        time.Time `gorm:"not null;index:idx_credit_tx_tenant_created,priority:2;index:idx_credit_tx_type_created,priority:2"`
}

// TableName returns the table name for GORM
func (CreditTransactionModel) TableName() string {
	return "credit_transactions"
}

// ToDomain converts the persistence model to a domain CreditTransaction
func (m *CreditTransactionModel) ToDomain() *credit.CreditTransaction {
	return &credit.CreditTransaction{
		ID:               m.ID,
		TenantID:         m.TenantID,
		Amount:           credit.FromRaw(m.AmountRaw),
		BalanceAfter:     credit.FromRaw(m.BalanceAfterRaw),
		Type:             credit.TransactionType(m.Type),
		Description:      m.Description,
		ReferenceID:      m.ReferenceID,
		FundingSource:    m.FundingSource,
		AttributedUserID: m.AttributedUserID,
		CreatedAt:        m.CreatedAt.UTC(),
	}
}

// CreditBalanceModel is the materialized per-tenant balance.
// balance_raw must equal the sum of the tenant's credit_transactions.amount_raw.
type CreditBalanceModel struct {
	TenantID    string    `gorm:"type:varchar(64);primaryKey"`
	BalanceRaw  int64     `gorm:"not null;default:0;check:chk_credit_balances_non_negative,balance_raw >= 0"`
	LastUpdated time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CreditBalanceModel) TableName() string {
	return "credit_balances"
}

// DividendDistributionModel records one dividend payout per tenant per date.
type DividendDistributionModel struct {
	ID               string    `gorm:"type:varchar(64);primaryKey"`
	TenantID         string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_dividend_tenant_date,priority:1"`
	DistributionDate string    `gorm:"type:varchar(10);not null;uniqueIndex:uq_dividend_tenant_date,priority:2;index"`
	AmountRaw        int64     `gorm:"not null"`
	ActiveUsers      int64     `gorm:"not null;default:0"`
	TransactionID    string    `gorm:"type:varchar(64);not null"`
	CreatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DividendDistributionModel) TableName() string {
	return "dividend_distributions"
}

// DateLayout is the stored form of DistributionDate.
const DateLayout = "2006-01-02"

// ToDomain converts the persistence model to a domain DividendDistribution
func (m *DividendDistributionModel) ToDomain() credit.DividendDistribution {
	date, _ := time.ParseInLocation(DateLayout, m.DistributionDate, time.UTC)
	return credit.DividendDistribution{
		ID:               m.ID,
		TenantID:         m.TenantID,
		DistributionDate: date,
		Amount:           credit.FromRaw(m.AmountRaw),
		ActiveUsers:      m.ActiveUsers,
		TransactionID:    m.TransactionID,
		CreatedAt:        m.CreatedAt.UTC(),
	}
}
