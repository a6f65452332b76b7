package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocationService manages the location hierarchy
type LocationService struct {
	scope     TransactionScope
	locations location.LocationRepository
	logger    *zap.Logger
}

// NewLocationService creates a LocationService
func NewLocationService(scope TransactionScope, locations location.LocationRepository, logger *zap.Logger) *LocationService {
	return &LocationService{
		scope:     scope,
		locations: locations,
		logger:    logger,
	}
}

// CreateLocation adds a node below an existing parent, or a zone when no parent is given
func (s *LocationService) CreateLocation(ctx context.Context, cmd CreateLocationCommand) (*location.Location, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	warehouseID := uuid.MustParse(cmd.WarehouseID)

	var created *location.Location
	err := s.scope.Execute(ctx, func(tx TransactionalRepositories) error {
		var parent *location.Location
		if id := optionalID(cmd.ParentID); id != nil {
			p, err := tx.Locations().FindByID(ctx, *id)
			if err != nil {
				return err
			}
			parent = p
		}

		loc, err := location.NewLocation(warehouseID, parent, cmd.Code, location.LocationType(cmd.Type), cmd.Capacity)
		if err != nil {
			return err
		}

		_, err = tx.Locations().FindByKey(ctx, warehouseID, loc.Key)
		switch {
		case err == nil:
			return shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("Location %s already exists", loc.Key))
		case !errors.Is(err, shared.ErrNotFound):
			return err
		}

		if err := tx.Locations().SaveWithLock(ctx, loc); err != nil {
			return err
		}
		created = loc
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("location created",
		zap.String("location_id", created.ID.String()),
		zap.String("key", created.Key),
		zap.String("level", string(created.Level)),
	)
	return created, nil
}

// GetLocation returns a location by id
func (s *LocationService) GetLocation(ctx context.Context, id uuid.UUID) (*location.Location, error) {
	return s.locations.FindByID(ctx, id)
}

// Resolve finds a location by its full key, e.g. "A-01-R3-S2-B07"
func (s *LocationService) Resolve(ctx context.Context, warehouseID uuid.UUID, fullKey string) (*location.Location, error) {
	key, err := location.NormalizeKey(fullKey)
	if err != nil {
		return nil, err
	}
	return s.locations.FindByKey(ctx, warehouseID, key)
}

// Tree loads the whole hierarchy of a warehouse
func (s *LocationService) Tree(ctx context.Context, warehouseID uuid.UUID) (*location.Hierarchy, error) {
	locs, err := s.locations.FindByWarehouse(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	return location.BuildHierarchy(locs)
}

// RenderTree returns the hierarchy of a warehouse as nested nodes
func (s *LocationService) RenderTree(ctx context.Context, warehouseID uuid.UUID) ([]*LocationTreeNode, error) {
	h, err := s.Tree(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	var roots []*LocationTreeNode
	for _, root := range h.Roots() {
		byID := make(map[uuid.UUID]*LocationTreeNode)
		h.Walk(root.ID, func(loc *location.Location, _ int) bool {
			rollup, _ := h.Rollup(loc.ID)
			node := &LocationTreeNode{
				ID:           loc.ID,
				Key:          loc.Key,
				Level:        loc.Level,
				Type:         loc.Type,
				Capacity:     loc.Capacity,
				CurrentUsage: rollup.Usage,
				OnHold:       loc.IsReserved,
			}
			byID[loc.ID] = node
			if loc.ParentID != nil {
				if parent, ok := byID[*loc.ParentID]; ok {
					parent.Children = append(parent.Children, node)
				}
			}
			return true
		})
		roots = append(roots, byID[root.ID])
	}
	return roots, nil
}

// Rollup returns the capacity and usage of the subtree rooted at id
func (s *LocationService) Rollup(ctx context.Context, id uuid.UUID) (location.Rollup, error) {
	loc, err := s.locations.FindByID(ctx, id)
	if err != nil {
		return location.Rollup{}, err
	}
	h, err := s.Tree(ctx, loc.WarehouseID)
	if err != nil {
		return location.Rollup{}, err
	}
	return h.Rollup(id)
}

// Hold stops a location from accepting new stock
func (s *LocationService) Hold(ctx context.Context, id uuid.UUID) (*location.Location, error) {
	return s.update(ctx, id, (*location.Location).Hold)
}

// Unhold lets a held location accept stock again
func (s *LocationService) Unhold(ctx context.Context, id uuid.UUID) (*location.Location, error) {
	return s.update(ctx, id, (*location.Location).Unhold)
}

func (s *LocationService) update(ctx context.Context, id uuid.UUID, fn func(*location.Location)) (*location.Location, error) {
	var out *location.Location
	err := retryOnConflict(ctx, DefaultMaxAttempts, func() error {
		return s.scope.Execute(ctx, func(tx TransactionalRepositories) error {
			loc, err := tx.Locations().FindByID(ctx, id)
			if err != nil {
				return err
			}
			fn(loc)
			if err := tx.Locations().SaveWithLock(ctx, loc); err != nil {
				return err
			}
			if err := tx.Events().Record(ctx, loc.GetDomainEvents()...); err != nil {
				return err
			}
			loc.ClearDomainEvents()
			out = loc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
