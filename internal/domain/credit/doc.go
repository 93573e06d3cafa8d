// Package credit provides the domain model of the tenant credit ledger.
//
// The ledger is an append-only log of CreditTransaction entries plus one
// CreditBalance row per tenant. The balance row always equals the sum of the
// tenant's transaction amounts and is never negative between operations.
//
// Key types:
//   - Credit: fixed-point amount in raw units (RawPerUnit raw units per currency unit)
//   - CreditTransaction: immutable ledger entry, positive for credits, negative for debits
//   - TransactionType: closed set of transaction categories stored as strings
//   - Ledger: the credit/debit/balance contract implemented by the persistence layer
package credit
