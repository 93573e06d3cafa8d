package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
)

// ObjectWriter stores a blob under a key.
type ObjectWriter interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
}

// ReportArchive keeps finished reports for operators.
type ReportArchive interface {
	// Save stores the report and returns the key it was stored under.
	Save(ctx context.Context, report *Report) (string, error)
}

// ObjectArchive writes reports as JSON objects.
type ObjectArchive struct {
	store ObjectWriter
}

// NewObjectArchive creates a new ObjectArchive
func NewObjectArchive(store ObjectWriter) *ObjectArchive {
	return &ObjectArchive{store: store}
}

// ReportKey returns the object key of a report window.
func ReportKey(r *Report) string {
	const layout = "20060102T1504Z"
	return fmt.Sprintf("reconciliation/%s_%s.json", r.WindowStart.UTC().Format(layout), r.WindowEnd.UTC().Format(layout))
}

// Save implements ReportArchive. A rerun for the same window replaces the earlier object.
func (a *ObjectArchive) Save(ctx context.Context, report *Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	key := ReportKey(report)
	if err := a.store.Upload(ctx, key, data, "application/json"); err != nil {
		return "", fmt.Errorf("archive report: %w", err)
	}
	return key, nil
}

// NoopArchive discards reports.
type NoopArchive struct{}

// Save implements ReportArchive.
func (NoopArchive) Save(context.Context, *Report) (string, error) {
	return "", nil
}

var (
	_ ReportArchive = (*ObjectArchive)(nil)
	_ ReportArchive = NoopArchive{}
)
