package ledger

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceRepository defines persistence for materialized balances
type BalanceRepository interface {
	// Find returns the balance or shared.ErrNotFound
	Find(ctx context.Context, productID, locationID uuid.UUID) (*Balance, error)
	FindByProduct(ctx context.Context, productID uuid.UUID) ([]*Balance, error)
	FindByLocation(ctx context.Context, locationID uuid.UUID) ([]*Balance, error)
	SumByProduct(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error)
	ListProductIDs(ctx context.Context) ([]uuid.UUID, error)
	// SaveWithLock inserts new balances and updates existing ones only if the
	// stored version is still Version-1; otherwise ErrConcurrencyConflict
	SaveWithLock(ctx context.Context, b *Balance) error
}

// MovementFilter selects movements. Zero values match everything.
type MovementFilter struct {
	ProductID     *uuid.UUID
	LocationID    *uuid.UUID
	Types         []MovementType
	From          *time.Time
	To            *time.Time
	AfterSequence int64
}

// Matches reports whether m passes the filter
func (f MovementFilter) Matches(m *Movement) bool {
	if f.ProductID != nil && m.ProductID != *f.ProductID {
		return false
	}
	if f.LocationID != nil && !m.TouchesLocation(*f.LocationID) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == m.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && m.OccurredAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !m.OccurredAt.Before(*f.To) {
		return false
	}
	return m.CommitSequence > f.AfterSequence
}

// MovementRepository is the append-only movement log
type MovementRepository interface {
	// Append stores the movement and assigns its CommitSequence. A reused
	// idempotency id fails with ErrDuplicateIdempotency. Sequences become
	// visible in order: once N is readable, no commit below N appears later.
	Append(ctx context.Context, m *Movement) error
	FindByID(ctx context.Context, id uuid.UUID) (*Movement, error)
	FindByIdempotencyID(ctx context.Context, idempotencyID string) (*Movement, error)
	// Find returns up to limit movements ordered by commit sequence,
	// starting after filter.AfterSequence
	Find(ctx context.Context, filter MovementFilter, limit int) ([]*Movement, error)
	FindPage(ctx context.Context, filter MovementFilter, page shared.Page) ([]*Movement, int64, error)
}
