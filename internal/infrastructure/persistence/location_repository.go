package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormLocationRepository implements LocationRepository using GORM
type GormLocationRepository struct {
	db *gorm.DB
}

// NewGormLocationRepository creates a new GormLocationRepository
func NewGormLocationRepository(db *gorm.DB) *GormLocationRepository {
	return &GormLocationRepository{db: db}
}

// FindByID finds a location by its ID
func (r *GormLocationRepository) FindByID(ctx context.Context, id uuid.UUID) (*location.Location, error) {
	var model models.LocationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, location.ErrLocationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByKey finds a location by its canonical key within a warehouse
func (r *GormLocationRepository) FindByKey(ctx context.Context, warehouseID uuid.UUID, key string) (*location.Location, error) {
	var model models.LocationModel
	if err := r.db.WithContext(ctx).
		Where("warehouse_id = ? AND location_key = ?", warehouseID, key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, location.ErrLocationNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByWarehouse returns every location of a warehouse ordered by key
func (r *GormLocationRepository) FindByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]*location.Location, error) {
	var rows []models.LocationModel
	if err := r.db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Order("location_key ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*location.Location, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// FindPath returns the location followed by its ancestors up to the zone
func (r *GormLocationRepository) FindPath(ctx context.Context, id uuid.UUID) ([]*location.Location, error) {
	path := make([]*location.Location, 0, 5)
	next := &id
	for next != nil {
		if len(path) > 5 {
			return nil, shared.NewDomainError("INVALID_LOCATION",
				fmt.Sprintf("Location %s has a parent cycle", id))
		}
		loc, err := r.FindByID(ctx, *next)
		if err != nil {
			return nil, err
		}
		path = append(path, loc)
		next = loc.ParentID
	}
	return path, nil
}

// SaveWithLock inserts new locations and updates existing ones with optimistic locking
func (r *GormLocationRepository) SaveWithLock(ctx context.Context, loc *location.Location) error {
	if !loc.IsModified() {
		return nil
	}
	model := models.LocationModelFromDomain(loc)

	if loc.IsNew() {
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			if isUniqueViolation(err) {
				return shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("Location %s already exists", loc.Key))
			}
			return err
		}
		loc.MarkPersisted()
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.LocationModel{}).
		Where("id = ? AND version = ?", loc.ID, loc.Version-1).
		Updates(map[string]any{
			"capacity":    model.Capacity,
			"is_reserved": model.IsReserved,
			"version":     model.Version,
			"updated_at":  model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	loc.MarkPersisted()
	return nil
}

// ApplyUsage moves stored usage with a single guarded relative update. The
// row lock it takes is held only until the surrounding transaction ends, and
// no version is bumped, so movements through a shared ancestor never conflict.
func (r *GormLocationRepository) ApplyUsage(ctx context.Context, change location.UsageChange) error {
	if change.Delta.IsZero() {
		return nil
	}
	updates := map[string]any{
		"current_usage": gorm.Expr("current_usage + ?", change.Delta),
		"updated_at":    time.Now(),
	}
	query := r.db.WithContext(ctx).
		Model(&models.LocationModel{}).
		Where("id = ?", change.LocationID)

	if change.Delta.IsPositive() {
		query = query.
			Where("is_reserved = ?", false).
			Where("(capacity = 0 OR current_usage + ? <= capacity)", change.Delta)
		if change.ProductID != nil {
			query = query.Where("(product_id IS NULL OR product_id = ? OR current_usage = 0)", *change.ProductID)
			updates["product_id"] = *change.ProductID
		}
	} else {
		query = query.Where("current_usage + ? >= 0", change.Delta)
		if change.Level == location.LevelBin {
			updates["product_id"] = gorm.Expr("CASE WHEN current_usage + ? = 0 THEN NULL ELSE product_id END", change.Delta)
		}
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// Ensure GormLocationRepository implements LocationRepository
var _ location.LocationRepository = (*GormLocationRepository)(nil)
