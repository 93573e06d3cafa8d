package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/domain/metering"
	"github.com/erp/billing/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// UsageSummaryRepository reads aggregated usage summaries.
type UsageSummaryRepository struct {
	db *gorm.DB
}

// NewUsageSummaryRepository creates a new UsageSummaryRepository
func NewUsageSummaryRepository(db *gorm.DB) *UsageSummaryRepository {
	return &UsageSummaryRepository{db: db}
}

// FindByWindow returns summaries whose windows lie in [From, To), ordered by window then key.
func (r *UsageSummaryRepository) FindByWindow(ctx context.Context, filter metering.SummaryFilter) ([]metering.UsageSummary, error) {
	q := r.db.WithContext(ctx).Model(&models.UsageSummaryModel{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if !filter.From.IsZero() {
		q = q.Where("window_start >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("window_end <= ?", filter.To.UTC())
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []models.UsageSummaryModel
	if err := q.Order("window_start ASC, tenant_id ASC, capability ASC, provider ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find usage summaries: %w", err)
	}
	out := make([]metering.UsageSummary, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

type tenantSumRow struct {
	TenantID string
	Total    int64
}

// GetAggregatedChargesByWindow sums total charge per tenant over summaries whose window
// starts in [start, end). A window crossing end belongs to the range it starts in.
func (r *UsageSummaryRepository) GetAggregatedChargesByWindow(ctx context.Context, start, end time.Time) ([]metering.TenantCharge, error) {
	var rows []tenantSumRow
	err := r.db.WithContext(ctx).Model(&models.UsageSummaryModel{}).
		Select("tenant_id, SUM(total_charge_raw) AS total").
		Where("window_start >= ? AND window_start < ?", start.UTC(), end.UTC()).
		Group("tenant_id").
		Order("tenant_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate charges: %w", err)
	}
	out := make([]metering.TenantCharge, 0, len(rows))
	for _, row := range rows {
		out = append(out, metering.TenantCharge{TenantID: row.TenantID, TotalCharge: credit.FromRaw(row.Total)})
	}
	return out, nil
}

var _ metering.SummaryRepository = (*UsageSummaryRepository)(nil)
