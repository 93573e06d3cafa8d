package metering

import (
	"math"
	"testing"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowFor(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 34, 56, 0, time.UTC)

	w := WindowFor(ts, time.Hour)
	assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC), w.End)
	assert.True(t, w.Contains(ts))
	assert.True(t, w.Contains(w.Start))
	assert.False(t, w.Contains(w.End))
	assert.False(t, w.ClosedAt(ts))
	assert.True(t, w.ClosedAt(w.End))
}

func TestSummarize(t *testing.T) {
	w := WindowFor(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), time.Hour)
	at := w.Start.Add(10 * time.Minute)

	events := []MeterEvent{
		{TenantID: "t2", Capability: CapabilityLLM, Provider: "openai", Timestamp: at, Charge: credit.FromRaw(1), Cost: credit.FromRaw(1), DurationMs: 10},
		{TenantID: "t2", Capability: CapabilityLLM, Provider: "openai", Timestamp: at, Charge: credit.FromRaw(2), Cost: credit.FromRaw(1), DurationMs: 20},
		{TenantID: "t2", Capability: CapabilityLLM, Provider: "openai", Timestamp: at, Charge: credit.FromRaw(3), Cost: credit.FromRaw(2), DurationMs: 30},
		{TenantID: "t2", Capability: CapabilityImage, Provider: "replicate", Timestamp: at, Charge: credit.FromRaw(7)},
		{TenantID: "t2", Capability: CapabilityLLM, Provider: "openai", Timestamp: w.End, Charge: credit.FromRaw(100)},
	}

	summaries, err := Summarize(w, events)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	llm := summaries[0]
	assert.Equal(t, SummaryKey{TenantID: "t2", Capability: CapabilityLLM, Provider: "openai"}, llm.Key())
	assert.Equal(t, int64(3), llm.EventCount)
	assert.Equal(t, credit.FromRaw(6), llm.TotalCharge)
	assert.Equal(t, credit.FromRaw(4), llm.TotalCost)
	assert.Equal(t, int64(60), llm.TotalDurationMs)
	assert.Equal(t, w.Start, llm.WindowStart)
	assert.Equal(t, w.End, llm.WindowEnd)

	assert.Equal(t, int64(1), summaries[1].EventCount)

	empty, err := Summarize(w, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSummarize_RejectsOverflow(t *testing.T) {
	w := WindowFor(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), time.Hour)
	at := w.Start.Add(time.Minute)
	events := []MeterEvent{
		{TenantID: "t1", Capability: CapabilityLLM, Provider: "openai", Timestamp: at, Charge: credit.FromRaw(math.MaxInt64)},
		{TenantID: "t1", Capability: CapabilityLLM, Provider: "openai", Timestamp: at, Charge: credit.FromRaw(1)},
	}

	_, err := Summarize(w, events)
	assert.ErrorIs(t, err, credit.ErrCreditOverflow)

	events[1].Charge = 0
	events[0].DurationMs, events[1].DurationMs = math.MaxInt64, 1
	_, err = Summarize(w, events)
	assert.Error(t, err)
}
