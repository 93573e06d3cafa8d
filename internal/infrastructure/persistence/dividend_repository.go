package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/billing/internal/domain/credit"
	"github.com/erp/billing/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DividendRepository stores dividend distribution rows.
type DividendRepository struct {
	db *gorm.DB
}

// NewDividendRepository creates a new DividendRepository
func NewDividendRepository(db *gorm.DB) *DividendRepository {
	return &DividendRepository{db: db}
}

// Exists reports whether the tenant already has a distribution for the date.
func (r *DividendRepository) Exists(ctx context.Context, tenantID string, date time.Time) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.DividendDistributionModel{}).
		Where("tenant_id = ? AND distribution_date = ?", tenantID, dateKey(date)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check dividend distribution: %w", err)
	}
	return n > 0, nil
}

// Record inserts the distribution row. It returns false when one already exists for the tenant and date.
func (r *DividendRepository) Record(ctx context.Context, d *credit.DividendDistribution) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.DistributionDate = credit.DateOnly(d.DistributionDate)
	row := &models.DividendDistributionModel{
		ID:               d.ID,
		TenantID:         d.TenantID,
		DistributionDate: dateKey(d.DistributionDate),
		AmountRaw:        d.Amount.Raw(),
		ActiveUsers:      d.ActiveUsers,
		TransactionID:    d.TransactionID,
		CreatedAt:        d.CreatedAt,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "distribution_date"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, fmt.Errorf("record dividend distribution: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	d.CreatedAt = row.CreatedAt
	return true, nil
}

// ListByDate returns every distribution for the date, ordered by tenant.
func (r *DividendRepository) ListByDate(ctx context.Context, date time.Time) ([]credit.DividendDistribution, error) {
	var rows []models.DividendDistributionModel
	err := r.db.WithContext(ctx).
		Where("distribution_date = ?", dateKey(date)).
		Order("tenant_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list dividend distributions: %w", err)
	}
	out := make([]credit.DividendDistribution, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

func dateKey(t time.Time) string {
	return credit.DateOnly(t).Format(models.DateLayout)
}

var _ credit.DividendRepository = (*DividendRepository)(nil)
