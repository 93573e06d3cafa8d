// Package metering provides domain models for usage metering.
//
// A MeterEvent is one billable action reported by a provider adapter. Events are
// accepted by the ingestor once they are in the write-ahead log, persisted in batches,
// and later rolled up into windowed UsageSummary rows per (tenant, capability, provider).
package metering
