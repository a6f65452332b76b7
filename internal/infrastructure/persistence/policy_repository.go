package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPolicyRepository implements PolicyRepository using GORM
type GormPolicyRepository struct {
	db *gorm.DB
}

// NewGormPolicyRepository creates a new GormPolicyRepository
func NewGormPolicyRepository(db *gorm.DB) *GormPolicyRepository {
	return &GormPolicyRepository{db: db}
}

// FindByProduct returns the policy of a product
func (r *GormPolicyRepository) FindByProduct(ctx context.Context, productID uuid.UUID) (*analytics.StockPolicy, error) {
	var model models.StockPolicyModel
	if err := r.db.WithContext(ctx).First(&model, "product_id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll returns every stored policy
func (r *GormPolicyRepository) FindAll(ctx context.Context) ([]*analytics.StockPolicy, error) {
	var rows []models.StockPolicyModel
	if err := r.db.WithContext(ctx).Order("product_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*analytics.StockPolicy, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Save creates or replaces the policy of a product
func (r *GormPolicyRepository) Save(ctx context.Context, policy *analytics.StockPolicy) error {
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = time.Now()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}},
			UpdateAll: true,
		}).
		Create(models.StockPolicyModelFromDomain(policy)).Error
}

// Ensure GormPolicyRepository implements PolicyRepository
var _ analytics.PolicyRepository = (*GormPolicyRepository)(nil)
