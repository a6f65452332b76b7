package persistence

import (
	"context"
	"errors"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormBalanceRepository implements BalanceRepository using GORM
type GormBalanceRepository struct {
	db *gorm.DB
}

// NewGormBalanceRepository creates a new GormBalanceRepository
func NewGormBalanceRepository(db *gorm.DB) *GormBalanceRepository {
	return &GormBalanceRepository{db: db}
}

// Find returns the balance of a product at a location
func (r *GormBalanceRepository) Find(ctx context.Context, productID, locationID uuid.UUID) (*ledger.Balance, error) {
	var model models.StockBalanceModel
	if err := r.db.WithContext(ctx).
		Where("product_id = ? AND location_id = ?", productID, locationID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByProduct returns every balance of a product
func (r *GormBalanceRepository) FindByProduct(ctx context.Context, productID uuid.UUID) ([]*ledger.Balance, error) {
	return r.find(ctx, "product_id = ?", productID)
}

// FindByLocation returns every balance held at a location
func (r *GormBalanceRepository) FindByLocation(ctx context.Context, locationID uuid.UUID) ([]*ledger.Balance, error) {
	return r.find(ctx, "location_id = ?", locationID)
}

func (r *GormBalanceRepository) find(ctx context.Context, where string, arg any) ([]*ledger.Balance, error) {
	var rows []models.StockBalanceModel
	if err := r.db.WithContext(ctx).
		Where(where, arg).
		Order("product_id ASC, location_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*ledger.Balance, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// SumByProduct returns the product's quantity across all locations
func (r *GormBalanceRepository) SumByProduct(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := r.db.WithContext(ctx).
		Model(&models.StockBalanceModel{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("product_id = ?", productID).
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// ListProductIDs returns every product with a balance row
func (r *GormBalanceRepository) ListProductIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.StockBalanceModel{}).
		Distinct("product_id").
		Order("product_id ASC").
		Pluck("product_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// SaveWithLock inserts new balances and updates existing ones with optimistic
// locking. A concurrent insert of the same key is reported as a conflict.
func (r *GormBalanceRepository) SaveWithLock(ctx context.Context, b *ledger.Balance) error {
	if !b.IsModified() {
		return nil
	}
	model := models.StockBalanceModelFromDomain(b)

	if b.IsNew() {
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			if isUniqueViolation(err) {
				return shared.ErrConcurrencyConflict
			}
			return err
		}
		b.MarkPersisted()
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.StockBalanceModel{}).
		Where("id = ? AND version = ?", b.ID, b.Version-1).
		Updates(map[string]any{
			"quantity":         model.Quantity,
			"reserved":         model.Reserved,
			"last_movement_at": model.LastMovementAt,
			"frozen":           model.Frozen,
			"frozen_reason":    model.FrozenReason,
			"version":          model.Version,
			"updated_at":       model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	b.MarkPersisted()
	return nil
}

// Ensure GormBalanceRepository implements BalanceRepository
var _ ledger.BalanceRepository = (*GormBalanceRepository)(nil)
