package billing

import (
	"time"

	"go.uber.org/zap"
)

// RunSummary counts what one job run did. Charged counts ledger movements in either
// direction; Skipped counts tenants with nothing to do or already handled this period.
type RunSummary struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Charged   int           `json:"charged"`
	Suspended int           `json:"suspended"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

func (s RunSummary) fields() []zap.Field {
	return []zap.Field{
		zap.String("job", s.Job),
		zap.Int("processed", s.Processed),
		zap.Int("charged", s.Charged),
		zap.Int("suspended", s.Suspended),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Duration("duration", s.Duration),
	}
}
