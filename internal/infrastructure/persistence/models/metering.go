package models

import (
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/domain/metering"
)

// MeterEventModel is the persistence model for a flushed meter event.
type MeterEventModel struct {
	ID           string             `gorm:"type:varchar(64);primaryKey"`
	TenantID     string             `gorm:"type:varchar(64);not null;index:idx_meter_events_tenant_time,priority:1"`
	CostRaw      int64              `gorm:"not null"`
	ChargeRaw    int64              `gorm:"not null"`
	Capability   string             `gorm:"type:varchar(32);not null"`
	Provider     string             `gorm:"type:varchar(64);not null"`
	OccurredAt   time.Time          `gorm:"not null;index:idx_meter_events_tenant_time,priority:2;index:idx_meter_events_pending,priority:2"`
	SessionID    *string            `gorm:"type:varchar(128)"`
	DurationMs   int64              `gorm:"not null;default:0"`
	Usage        map[string]float64 `gorm:"type:text;serializer:json"`
	AggregatedAt *time.Time         `gorm:"index:idx_meter_events_pending,priority:1"`
	CreatedAt    time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MeterEventModel) TableName() string {
	return "meter_events"
}

// ToDomain converts the persistence model to a domain MeterEvent
func (m *MeterEventModel) ToDomain() metering.MeterEvent {
	e := metering.MeterEvent{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Cost:       credit.FromRaw(m.CostRaw),
		Charge:     credit.FromRaw(m.ChargeRaw),
		Capability: metering.Capability(m.Capability),
		Provider:   m.Provider,
		Timestamp:  m.OccurredAt.UTC(),
		DurationMs: m.DurationMs,
		Usage:      m.Usage,
	}
	if m.SessionID != nil {
		e.SessionID = *m.SessionID
	}
	return e
}

// MeterEventModelFromDomain creates a persistence model from a domain MeterEvent
func MeterEventModelFromDomain(e metering.MeterEvent) *MeterEventModel {
	return &MeterEventModel{
		ID:         e.ID,
		TenantID:   e.TenantID,
		CostRaw:    e.Cost.Raw(),
		ChargeRaw:  e.Charge.Raw(),
		Capability: e.Capability.String(),
		Provider:   e.Provider,
		OccurredAt: e.Timestamp.UTC(),
		SessionID:  credit.StringPtr(e.SessionID),
		DurationMs: e.DurationMs,
		Usage:      e.Usage,
	}
}

// UsageSummaryModel is the persistence model for a windowed usage summary.
type UsageSummaryModel struct {
	ID              string    `gorm:"type:varchar(64);primaryKey"`
	TenantID        string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_usage_summaries_key,priority:1"`
	Capability      string    `gorm:"type:varchar(32);not null;uniqueIndex:uq_usage_summaries_key,priority:2"`
	Provider        string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_usage_summaries_key,priority:3"`
	WindowStart     time.Time `gorm:"not null;uniqueIndex:uq_usage_summaries_key,priority:4;index:idx_usage_summaries_window"`
	WindowEnd       time.Time `gorm:"not null"`
	EventCount      int64     `gorm:"not null;default:0"`
	TotalCostRaw    int64     `gorm:"not null;default:0"`
	TotalChargeRaw  int64     `gorm:"not null;default:0"`
	TotalDurationMs int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UsageSummaryModel) TableName() string {
	return "usage_summaries"
}

// ToDomain converts the persistence model to a domain UsageSummary
func (m *UsageSummaryModel) ToDomain() metering.UsageSummary {
	return metering.UsageSummary{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Capability:      metering.Capability(m.Capability),
		Provider:        m.Provider,
		WindowStart:     m.WindowStart.UTC(),
		WindowEnd:       m.WindowEnd.UTC(),
		EventCount:      m.EventCount,
		TotalCost:       credit.FromRaw(m.TotalCostRaw),
		TotalCharge:     credit.FromRaw(m.TotalChargeRaw),
		TotalDurationMs: m.TotalDurationMs,
	}
}

// UsageSummaryModelFromDomain creates a persistence model from a domain UsageSummary
func UsageSummaryModelFromDomain(s metering.UsageSummary) *UsageSummaryModel {
	return &UsageSummaryModel{
		ID:              s.ID,
		TenantID:        s.TenantID,
		Capability:      s.Capability.String(),
		Provider:        s.Provider,
		WindowStart:     s.WindowStart.UTC(),
		WindowEnd:       s.WindowEnd.UTC(),
		EventCount:      s.EventCount,
		TotalCostRaw:    s.TotalCost.Raw(),
		TotalChargeRaw:  s.TotalCharge.Raw(),
		TotalDurationMs: s.TotalDurationMs,
	}
}
