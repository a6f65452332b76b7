package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormMovementRepository implements the append-only MovementRepository using GORM
type GormMovementRepository struct {
	db *gorm.DB
}

// NewGormMovementRepository creates a new GormMovementRepository
func NewGormMovementRepository(db *gorm.DB) *GormMovementRepository {
	return &GormMovementRepository{db: db}
}

// appendLockKey names the Postgres advisory lock that orders appends
const appendLockKey int64 = 0x73746b6c6f67 // "stklog"

// Append inserts the movement and reads back its commit sequence.
// On Postgres it first takes a transaction-scoped advisory lock, so sequences
// are drawn in commit order and an AfterSequence cursor never skips a late
// commit. Callers append after their balance and location writes.
func (r *GormMovementRepository) Append(ctx context.Context, m *ledger.Movement) error {
	db := r.db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("SELECT pg_advisory_xact_lock(?)", appendLockKey).Error; err != nil {
			return fmt.Errorf("failed to lock movement log: %w", err)
		}
	}
	model := models.StockMovementModelFromDomain(m)
	if err := db.Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateIdempotency
		}
		return err
	}
	m.CommitSequence = model.CommitSequence
	return nil
}

// FindByID finds a movement by its ID
func (r *GormMovementRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Movement, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByIdempotencyID finds the movement committed for an idempotency id
func (r *GormMovementRepository) FindByIdempotencyID(ctx context.Context, idempotencyID string) (*ledger.Movement, error) {
	return r.first(ctx, "idempotency_id = ?", idempotencyID)
}

func (r *GormMovementRepository) first(ctx context.Context, where string, arg any) (*ledger.Movement, error) {
	var model models.StockMovementModel
	if err := r.db.WithContext(ctx).Where(where, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Find returns up to limit movements in commit order
func (r *GormMovementRepository) Find(ctx context.Context, filter ledger.MovementFilter, limit int) ([]*ledger.Movement, error) {
	query := applyMovementFilter(r.db.WithContext(ctx).Model(&models.StockMovementModel{}), filter).
		Order("commit_sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.StockMovementModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toMovements(rows), nil
}

// FindPage returns one page of movements in commit order and the total count
func (r *GormMovementRepository) FindPage(ctx context.Context, filter ledger.MovementFilter, page shared.Page) ([]*ledger.Movement, int64, error) {
	page = page.Normalize()

	var total int64
	if err := applyMovementFilter(r.db.WithContext(ctx).Model(&models.StockMovementModel{}), filter).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.StockMovementModel
	if err := applyMovementFilter(r.db.WithContext(ctx).Model(&models.StockMovementModel{}), filter).
		Order("commit_sequence ASC").
		Offset(page.Offset()).
		Limit(page.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toMovements(rows), total, nil
}

func applyMovementFilter(query *gorm.DB, filter ledger.MovementFilter) *gorm.DB {
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}
	if filter.LocationID != nil {
		query = query.Where("(from_location_id = ? OR to_location_id = ?)", *filter.LocationID, *filter.LocationID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query = query.Where("movement_type IN ?", types)
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("occurred_at < ?", *filter.To)
	}
	if filter.AfterSequence > 0 {
		query = query.Where("commit_sequence > ?", filter.AfterSequence)
	}
	return query
}

func toMovements(rows []models.StockMovementModel) []*ledger.Movement {
	out := make([]*ledger.Movement, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out
}

// Ensure GormMovementRepository implements MovementRepository
var _ ledger.MovementRepository = (*GormMovementRepository)(nil)
