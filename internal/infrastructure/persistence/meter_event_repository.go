package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/erp/billing/internal/domain/metering"
	"github.com/erp/billing/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

// MeterEventRepository stores raw meter events and folds them into usage summaries.
type MeterEventRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewMeterEventRepository creates a new MeterEventRepository
func NewMeterEventRepository(db *gorm.DB) *MeterEventRepository {
	return &MeterEventRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// InsertBatch stores events, skipping ids that already exist so that log replay is idempotent.
func (r *MeterEventRepository) InsertBatch(ctx context.Context, events []metering.MeterEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]*models.MeterEventModel, 0, len(events))
	for _, e := range events {
		rows = append(rows, models.MeterEventModelFromDomain(e))
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(rows, insertBatchSize).Error
	if err != nil {
		return fmt.Errorf("insert meter events: %w", err)
	}
	return nil
}

// Count returns the number of events matching the filter.
func (r *MeterEventRepository) Count(ctx context.Context, filter metering.EventFilter) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.MeterEventModel{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if !filter.From.IsZero() {
		q = q.Where("occurred_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("occurred_at < ?", filter.To.UTC())
	}
	if filter.OnlyPending {
		q = q.Where("aggregated_at IS NULL")
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count meter events: %w", err)
	}
	return n, nil
}

// OldestPending returns the timestamp of the oldest unaggregated event before the cutoff.
func (r *MeterEventRepository) OldestPending(ctx context.Context, before time.Time) (time.Time, bool, error) {
	var row models.MeterEventModel
	err := r.db.WithContext(ctx).
		Select("id", "occurred_at").
		Where("aggregated_at IS NULL AND occurred_at < ?", before.UTC()).
		Order("occurred_at ASC").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("find oldest pending event: %w", err)
	}
	return row.OccurredAt.UTC(), true, nil
}

// AggregateWindow claims up to limit pending events in the window, adds them to their
// summaries and marks them aggregated in one transaction. Rows locked by a concurrent
// aggregator are skipped on PostgreSQL.
func (r *MeterEventRepository) AggregateWindow(ctx context.Context, window metering.Window, limit int) (int, []metering.UsageSummary, error) {
	var (
		folded    int
		summaries []metering.UsageSummary
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.MeterEventModel
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("aggregated_at IS NULL AND occurred_at >= ? AND occurred_at < ?", window.Start.UTC(), window.End.UTC()).
			Order("occurred_at ASC, id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Find(&rows).Error; err != nil {
			return fmt.Errorf("load pending events: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		events := make([]metering.MeterEvent, 0, len(rows))
		ids := make([]string, 0, len(rows))
		for i := range rows {
			events = append(events, rows[i].ToDomain())
			ids = append(ids, rows[i].ID)
		}

		var sumErr error
		summaries, sumErr = metering.Summarize(window, events)
		if sumErr != nil {
			return sumErr
		}
		sort.Slice(summaries, func(i, j int) bool {
			a, b := summaries[i], summaries[j]
			if a.TenantID != b.TenantID {
				return a.TenantID < b.TenantID
			}
			if a.Capability != b.Capability {
				return a.Capability < b.Capability
			}
			return a.Provider < b.Provider
		})

		now := r.now()
		for i := range summaries {
			if err := upsertSummary(tx, &summaries[i], now); err != nil {
				return err
			}
		}

		res := tx.Model(&models.MeterEventModel{}).
			Where("id IN ? AND aggregated_at IS NULL", ids).
			Update("aggregated_at", now)
		if res.Error != nil {
			return fmt.Errorf("mark events aggregated: %w", res.Error)
		}
		if res.RowsAffected != int64(len(ids)) {
			return metering.ErrAggregationConflict
		}
		folded = len(ids)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return folded, summaries, nil
}

// upsertSummary adds the delta to an existing summary row or inserts a new one.
func upsertSummary(tx *gorm.DB, s *metering.UsageSummary, now time.Time) error {
	s.ID = uuid.NewString()
	row := models.UsageSummaryModelFromDomain(*s)
	row.CreatedAt = now
	row.UpdatedAt = now
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "capability"}, {Name: "provider"}, {Name: "window_start"}},
		DoUpdates: clause.Assignments(map[string]any{
			"event_count":       gorm.Expr("usage_summaries.event_count + excluded.event_count"),
			"total_cost_raw":    gorm.Expr("usage_summaries.total_cost_raw + excluded.total_cost_raw"),
			"total_charge_raw":  gorm.Expr("usage_summaries.total_charge_raw + excluded.total_charge_raw"),
			"total_duration_ms": gorm.Expr("usage_summaries.total_duration_ms + excluded.total_duration_ms"),
			"updated_at":        gorm.Expr("excluded.updated_at"),
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert usage summary: %w", err)
	}
	return nil
}

// Interface compliance checks
var (
	_ metering.EventStore       = (*MeterEventRepository)(nil)
	_ metering.AggregationStore = (*MeterEventRepository)(nil)
)
