package metering

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrInvalidEvent wraps every validation failure of a MeterEvent.
	ErrInvalidEvent = errors.New("invalid meter event")
	// ErrIngestorClosed is returned by Emit after Close.
	ErrIngestorClosed = errors.New("ingestor is closed")
	// ErrAggregationConflict means another aggregator claimed the same events first.
	ErrAggregationConflict = errors.New("window already aggregated")
)

// MeterEvent is an immutable fact about one billable action.
// Cost is what the provider charged the platform, Charge is what the tenant owes.
type MeterEvent struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant" validate:"required,max=64"`
	Cost       credit.Credit      `json:"cost" validate:"gte=0"`
	Charge     credit.Credit      `json:"charge" validate:"gte=0"`
	Capability Capability         `json:"capability" validate:"required"`
	Provider   string             `json:"provider" validate:"required,max=64"`
	Timestamp  time.Time          `json:"timestamp"`
	SessionID  string             `json:"sessionId,omitempty" validate:"max=128"`
	DurationMs int64              `json:"duration,omitempty" validate:"gte=0"`
	Usage      map[string]float64 `json:"usage,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func eventValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the capability enum.
func (e *MeterEvent) Validate() error {
	if err := eventValidator().Struct(e); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, describeValidation(err))
	}
	if !e.Capability.IsValid() {
		return fmt.Errorf("%w: unknown capability %q", ErrInvalidEvent, e.Capability)
	}
	return nil
}

// Stamp assigns an id and a UTC timestamp when they are missing.
func (e *MeterEvent) Stamp(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
}

// Duration returns the event duration.
func (e *MeterEvent) Duration() time.Duration {
	return time.Duration(e.DurationMs) * time.Millisecond
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
