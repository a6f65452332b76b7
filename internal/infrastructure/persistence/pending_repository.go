package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockledger/internal/domain/pending"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var openStatuses = []string{string(pending.StatusPending), string(pending.StatusPartial)}

// GormPendingMovementRepository implements PendingMovementRepository using GORM
type GormPendingMovementRepository struct {
	db *gorm.DB
}

// NewGormPendingMovementRepository creates a new GormPendingMovementRepository
func NewGormPendingMovementRepository(db *gorm.DB) *GormPendingMovementRepository {
	return &GormPendingMovementRepository{db: db}
}

// FindByID finds a pending movement by its ID
func (r *GormPendingMovementRepository) FindByID(ctx context.Context, id uuid.UUID) (*pending.PendingMovement, error) {
	var model models.PendingMovementModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pending.ErrPendingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindOpen returns one page of open workflows, oldest first
func (r *GormPendingMovementRepository) FindOpen(ctx context.Context, page shared.Page) ([]*pending.PendingMovement, int64, error) {
	page = page.Normalize()

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.PendingMovementModel{}).
		Where("status IN ?", openStatuses).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.PendingMovementModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", openStatuses).
		Order("created_at ASC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toPendingMovements(rows), total, nil
}

// FindOpenCreatedBefore returns up to limit open workflows created before the cutoff
func (r *GormPendingMovementRepository) FindOpenCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*pending.PendingMovement, error) {
	var rows []models.PendingMovementModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", openStatuses, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toPendingMovements(rows), nil
}

// SaveWithLock inserts new workflows and updates existing ones with optimistic locking
func (r *GormPendingMovementRepository) SaveWithLock(ctx context.Context, p *pending.PendingMovement) error {
	if !p.IsModified() {
		return nil
	}
	model := models.PendingMovementModelFromDomain(p)

	if p.IsNew() {
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			if isUniqueViolation(err) {
				return shared.ErrConcurrencyConflict
			}
			return err
		}
		p.MarkPersisted()
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.PendingMovementModel{}).
		Where("id = ? AND version = ?", p.ID, p.Version-1).
		Updates(map[string]any{
			"scanned_quantity":  model.ScannedQuantity,
			"reserved_quantity": model.ReservedQuantity,
			"status":            model.Status,
			"movement_id":       model.MovementID,
			"completed_at":      model.CompletedAt,
			"cancelled_at":      model.CancelledAt,
			"version":           model.Version,
			"updated_at":        model.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	p.MarkPersisted()
	return nil
}

func toPendingMovements(rows []models.PendingMovementModel) []*pending.PendingMovement {
	out := make([]*pending.PendingMovement, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

// Ensure GormPendingMovementRepository implements PendingMovementRepository
var _ pending.PendingMovementRepository = (*GormPendingMovementRepository)(nil)
