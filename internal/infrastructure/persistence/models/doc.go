// Package models contains GORM persistence models that map to database tables.
// These models are separate from domain types to keep the domain layer free
// of ORM concerns. Column types are chosen to work on both PostgreSQL and SQLite.
//
// Tables:
//   - meter_events: raw flushed meter events, marked once aggregated
//   - usage_summaries: windowed aggregates, unique per (tenant, capability, provider, window_start)
//   - credit_transactions: append-only ledger entries, unique reference_id
//   - credit_balances: one materialized balance per tenant
//   - dividend_distributions: one payout row per (tenant, date)
package models

// All returns every model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&MeterEventModel{},
		&UsageSummaryModel{},
		&CreditBalanceModel{},
		&CreditTransactionModel{},
		&DividendDistributionModel{},
	}
}
