package metering

import (
	"fmt"
	"math"
	"time"

	"github.com/erp/billing/internal/domain/credit"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFor returns the window of the given size containing t, aligned to the UTC epoch grid.
func WindowFor(t time.Time, size time.Duration) Window {
	start := t.UTC().Truncate(size)
	return Window{Start: start, End: start.Add(size)}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ClosedAt reports whether the window has ended at the given time.
func (w Window) ClosedAt(now time.Time) bool {
	return !now.Before(w.End)
}

// SummaryKey groups events into one summary row per window.
type SummaryKey struct {
	TenantID   string
	Capability Capability
	Provider   string
}

// UsageSummary is the aggregate of one group's events in one window.
type UsageSummary struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant"`
	Capability      Capability    `json:"capability"`
	Provider        string        `json:"provider"`
	WindowStart     time.Time     `json:"windowStart"`
	WindowEnd       time.Time     `json:"windowEnd"`
	EventCount      int64         `json:"eventCount"`
	TotalCost       credit.Credit `json:"totalCost"`
	TotalCharge     credit.Credit `json:"totalCharge"`
	TotalDurationMs int64         `json:"totalDuration"`
}

// Key returns the grouping key of the summary.
func (s *UsageSummary) Key() SummaryKey {
	return SummaryKey{TenantID: s.TenantID, Capability: s.Capability, Provider: s.Provider}
}

// Summarize groups events by key and sums them into summaries for the window.
// Events outside the window are ignored. Output order follows first appearance.
func Summarize(window Window, events []MeterEvent) ([]UsageSummary, error) {
	index := make(map[SummaryKey]int)
	var out []UsageSummary
	for i := range events {
		e := &events[i]
		if !window.Contains(e.Timestamp) {
			continue
		}
		key := SummaryKey{TenantID: e.TenantID, Capability: e.Capability, Provider: e.Provider}
		pos, ok := index[key]
		if !ok {
			out = append(out, UsageSummary{
				TenantID:    e.TenantID,
				Capability:  e.Capability,
				Provider:    e.Provider,
				WindowStart: window.Start,
				WindowEnd:   window.End,
			})
			pos = len(out) - 1
			index[key] = pos
		}
		s := &out[pos]
		cost, err := s.TotalCost.CheckedAdd(e.Cost)
		if err != nil {
			return nil, fmt.Errorf("summarize %s/%s/%s cost: %w", key.TenantID, key.Capability, key.Provider, err)
		}
		charge, err := s.TotalCharge.CheckedAdd(e.Charge)
		if err != nil {
			return nil, fmt.Errorf("summarize %s/%s/%s charge: %w", key.TenantID, key.Capability, key.Provider, err)
		}
		if e.DurationMs > 0 && s.TotalDurationMs > math.MaxInt64-e.DurationMs {
			return nil, fmt.Errorf("summarize %s/%s/%s: duration out of range", key.TenantID, key.Capability, key.Provider)
		}
		s.EventCount++
		s.TotalCost = cost
		s.TotalCharge = charge
		s.TotalDurationMs += e.DurationMs
	}
	return out, nil
}

// TenantCharge is the summed charge of one tenant over a range of windows.
type TenantCharge struct {
	TenantID    string        `json:"tenantId"`
	TotalCharge credit.Credit `json:"totalCharge"`
}
