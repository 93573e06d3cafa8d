package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/domain/metering"
	"github.com/erp/billing/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/language"
)

type stubSources struct {
	charges  []metering.TenantCharge
	debits   []credit.TenantDebit
	err      error
	gotStart time.Time
	gotEnd   time.Time
}

func (s *stubSources) GetAggregatedChargesByWindow(_ context.Context, start, end time.Time) ([]metering.TenantCharge, error) {
	s.gotStart, s.gotEnd = start, end
	return s.charges, s.err
}

func (s *stubSources) GetAggregatedAdapterUsageDebits(_ context.Context, _, _ time.Time) ([]credit.TenantDebit, error) {
	return s.debits, nil
}

var (
	day      = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	dayAfter = day.Add(24 * time.Hour)
)

func TestReconcile_ReportsExactDrift(t *testing.T) {
	src := &stubSources{
		charges: []metering.TenantCharge{{TenantID: "t1", TotalCharge: credit.MustParseCredit("10.00")}},
		debits:  []credit.TenantDebit{{TenantID: "t1", TotalDebit: credit.MustParseCredit("9.50")}},
	}
	svc := NewService(src, src)

	report, err := svc.Reconcile(context.Background(), day, dayAfter)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)

	rec := report.Records[0]
	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, credit.MustParseCredit("0.50"), rec.Delta)
	assert.Equal(t, credit.MustParseCredit("10.00"), rec.AggregatedCharge)
	assert.Equal(t, credit.MustParseCredit("9.50"), rec.LedgerDebited)
	assert.Equal(t, day, rec.WindowStart)
	assert.Equal(t, dayAfter, rec.WindowEnd)
}

func TestReconcile_OuterJoinToleranceAndOrder(t *testing.T) {
	src := &stubSources{
		charges: []metering.TenantCharge{
			{TenantID: "balanced", TotalCharge: credit.FromUnits(5)},
			{TenantID: "undercharged", TotalCharge: credit.FromUnits(3)},
			{TenantID: "within", TotalCharge: credit.MustParseCredit("1.005")},
		},
		debits: []credit.TenantDebit{
			{TenantID: "balanced", TotalDebit: credit.FromUnits(5)},
			{TenantID: "overcharged", TotalDebit: credit.FromUnits(7)},
			{TenantID: "within", TotalDebit: credit.FromUnits(1)},
		},
	}
	svc := NewService(src, src, WithTolerance(credit.MustParseCredit("0.01")))

	report, err := svc.Reconcile(context.Background(), day, dayAfter)
	require.NoError(t, err)
	assert.Equal(t, 4, report.TenantsCompared)
	assert.Equal(t, credit.MustParseCredit("9.005"), report.TotalCharged)
	assert.Equal(t, credit.FromUnits(13), report.TotalDebited)

	require.Len(t, report.Records, 2)
	assert.Equal(t, "overcharged", report.Records[0].TenantID)
	assert.Equal(t, credit.FromUnits(-7), report.Records[0].Delta)
	assert.Equal(t, "undercharged", report.Records[1].TenantID)
	assert.Equal(t, credit.FromUnits(3), report.Records[1].Delta)
}

func TestReconcile_EqualDeltasSortByTenant(t *testing.T) {
	src := &stubSources{
		charges: []metering.TenantCharge{
			{TenantID: "b", TotalCharge: credit.FromUnits(2)},
			{TenantID: "a", TotalCharge: credit.FromUnits(2)},
		},
	}
	report, err := NewService(src, src).Reconcile(context.Background(), day, dayAfter)
	require.NoError(t, err)
	require.Len(t, report.Records, 2)
	assert.Equal(t, "a", report.Records[0].TenantID)
	assert.Equal(t, "b", report.Records[1].TenantID)
}

func TestReconcile_Errors(t *testing.T) {
	src := &stubSources{err: errors.New("db down")}
	svc := NewService(src, src)

	_, err := svc.Reconcile(context.Background(), day, day)
	require.Error(t, err)

	_, err = svc.Reconcile(context.Background(), day, dayAfter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestReconcile_LogsEachDriftRecord(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	src := &stubSources{
		charges: []metering.TenantCharge{{TenantID: "t1", TotalCharge: credit.FromUnits(1)}, {TenantID: "t2", TotalCharge: credit.FromUnits(2)}},
	}
	_, err := NewService(src, src, WithLogger(zap.New(core))).Reconcile(context.Background(), day, dayAfter)
	require.NoError(t, err)
	assert.Equal(t, 2, logs.FilterMessage("billing drift detected").Len())
}

func TestReport_Render(t *testing.T) {
	report := &Report{
		WindowStart:     day,
		WindowEnd:       dayAfter,
		TenantsCompared: 2,
		TotalCharged:    credit.MustParseCredit("1234.5"),
		TotalDebited:    credit.MustParseCredit("1234"),
		Records: []DriftRecord{{
			TenantID:         "t1",
			AggregatedCharge: credit.MustParseCredit("10.00"),
			LedgerDebited:    credit.MustParseCredit("9.50"),
			Delta:            credit.MustParseCredit("0.50"),
		}},
	}

	out := report.Render(language.English)
	assert.Contains(t, out, "1,234.50")
	assert.Contains(t, out, "Drift records: 1")
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "0.50")

	empty := &Report{WindowStart: day, WindowEnd: dayAfter}
	assert.Contains(t, empty.Render(language.English), "No drift.")
}

func TestJob_ArchivesPreviousDay(t *testing.T) {
	src := &stubSources{
		charges: []metering.TenantCharge{{TenantID: "t1", TotalCharge: credit.MustParseCredit("10.00")}},
		debits:  []credit.TenantDebit{{TenantID: "t1", TotalDebit: credit.MustParseCredit("9.50")}},
	}
	objects := storage.NewMemoryObjectStorage()
	job := NewJob(NewService(src, src), NewObjectArchive(objects), nil)

	report, err := job.Run(context.Background(), dayAfter.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, day, src.gotStart)
	assert.Equal(t, dayAfter, src.gotEnd)

	require.Equal(t, []string{"reconciliation/20260301T0000Z_20260302T0000Z.json"}, objects.Keys())
	data, err := objects.Download(context.Background(), ReportKey(report))
	require.NoError(t, err)

	var archived Report
	require.NoError(t, json.Unmarshal(data, &archived))
	require.Len(t, archived.Records, 1)
	assert.Equal(t, credit.MustParseCredit("0.50"), archived.Records[0].Delta)
}

type failingWriter struct{}

func (failingWriter) Upload(context.Context, string, []byte, string) error {
	return errors.New("bucket gone")
}

func TestJob_ArchiveFailureDoesNotFailRun(t *testing.T) {
	src := &stubSources{}
	job := NewJob(NewService(src, src), NewObjectArchive(failingWriter{}), zap.NewNop())

	report, err := job.Run(context.Background(), dayAfter)
	require.NoError(t, err)
	assert.False(t, report.HasDrift())
	assert.Equal(t, "reconciliation", job.Name())
}
