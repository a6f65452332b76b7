package pending

import (
	"context"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
)

// PendingMovementRepository defines persistence for pending movements
type PendingMovementRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*PendingMovement, error)
	FindOpen(ctx context.Context, page shared.Page) ([]*PendingMovement, int64, error)
	// FindOpenCreatedBefore returns open workflows created before the cutoff
	FindOpenCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*PendingMovement, error)
	SaveWithLock(ctx context.Context, p *PendingMovement) error
}
