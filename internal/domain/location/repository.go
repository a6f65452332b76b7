package location

import (
	"context"

	"github.com/google/uuid"
)

// LocationRepository defines persistence for locations
type LocationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Location, error)
	FindByKey(ctx context.Context, warehouseID uuid.UUID, key string) (*Location, error)
	FindByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]*Location, error)
	// FindPath returns the location followed by all of its ancestors
	FindPath(ctx context.Context, id uuid.UUID) ([]*Location, error)
	// SaveWithLock inserts new locations and updates existing ones only if
	// the stored version is still Version-1. Updates leave usage and the bin
	// occupant alone; those move through ApplyUsage.
	SaveWithLock(ctx context.Context, loc *Location) error
	// ApplyUsage adds change.Delta to the stored usage without a version check.
	// It returns shared.ErrConcurrencyConflict when the row no longer admits the
	// change: capacity, hold, bin occupant or underflow.
	ApplyUsage(ctx context.Context, change UsageChange) error
}
