package reconciliation

import (
	"context"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// Job reconciles the previous UTC day and archives the report.
type Job struct {
	service *Service
	archive ReportArchive
	logger  *zap.Logger
}

// NewJob creates a new reconciliation Job. A nil archive discards reports.
func NewJob(service *Service, archive ReportArchive, logger *zap.Logger) *Job {
	if archive == nil {
		archive = NoopArchive{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{service: service, archive: archive, logger: logger}
}

// Name identifies the job for scheduling and leases.
func (j *Job) Name() string {
	return "reconciliation"
}

// Run reconciles the UTC day before at.
func (j *Job) Run(ctx context.Context, at time.Time) (*Report, error) {
	end := credit.DateOnly(at)
	start := end.AddDate(0, 0, -1)

	report, err := j.service.Reconcile(ctx, start, end)
	if err != nil {
		return nil, err
	}

	key, err := j.archive.Save(ctx, report)
	if err != nil {
		// The report was produced and logged; a lost archive copy does not fail the run.
		j.logger.Error("failed to archive reconciliation report", zap.Time("window_start", start), zap.Error(err))
	} else if key != "" {
		j.logger.Info("reconciliation report archived", zap.String("key", key))
	}

	if report.HasDrift() {
		j.logger.Debug("reconciliation report\n" + report.Render(language.English))
	}
	return report, nil
}
