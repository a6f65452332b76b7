package location

import (
	"fmt"
	"strings"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Level is the depth of a node in the zone → aisle → rack → shelf → bin tree
type Level string

const (
	LevelZone  Level = "zone"
	LevelAisle Level = "aisle"
	LevelRack  Level = "rack"
	LevelShelf Level = "shelf"
	LevelBin   Level = "bin"
)

var levels = []Level{LevelZone, LevelAisle, LevelRack, LevelShelf, LevelBin}

// Depth returns 0 for zones up to 4 for bins, or -1 for an unknown level
func (l Level) Depth() int {
	for i, lv := range levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// IsValid checks if the level is known
func (l Level) IsValid() bool {
	return l.Depth() >= 0
}

// Child returns the level directly below l
func (l Level) Child() (Level, bool) {
	d := l.Depth()
	if d < 0 || d == len(levels)-1 {
		return "", false
	}
	return levels[d+1], true
}

// LevelAt returns the level for a depth
func LevelAt(depth int) (Level, bool) {
	if depth < 0 || depth >= len(levels) {
		return "", false
	}
	return levels[depth], true
}

// LocationType is the functional role of a location
type LocationType string

const (
	LocationTypeStorage        LocationType = "storage"
	LocationTypeReceiving      LocationType = "receiving"
	LocationTypeShipping       LocationType = "shipping"
	LocationTypeQualityControl LocationType = "quality_control"
	LocationTypeStaging        LocationType = "staging"
)

// IsValid checks if the location type is known
func (t LocationType) IsValid() bool {
	switch t {
	case LocationTypeStorage, LocationTypeReceiving, LocationTypeShipping,
		LocationTypeQualityControl, LocationTypeStaging:
		return true
	}
	return false
}

const AggregateTypeLocation = "Location"

var (
	ErrLocationNotFound = shared.NewDomainError("NOT_FOUND", "Location not found")
	ErrCapacityExceeded = shared.NewDomainError("LOCATION_CAPACITY_EXCEEDED", "Location capacity exceeded")
	ErrLocationOccupied = shared.NewDomainError("LOCATION_OCCUPIED", "Bin is occupied by another product")
	ErrLocationOnHold   = shared.NewDomainError("LOCATION_ON_HOLD", "Location is on hold")
	ErrInvalidLocation  = shared.NewDomainError("INVALID_LOCATION", "Invalid location")
	ErrInvalidQuantity  = shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	ErrUsageUnderflow   = shared.NewDomainError("LOCATION_USAGE_UNDERFLOW", "Release exceeds current usage")
)

// Location is one node of a warehouse hierarchy.
// Capacity zero means unbounded. CurrentUsage is the stored usage: stock held
// at the node itself, plus everything below it for bins and bounded nodes.
// Hierarchy.Rollup derives the subtree usage of unbounded nodes.
type Location struct {
	shared.BaseAggregateRoot
	WarehouseID  uuid.UUID
	ParentID     *uuid.UUID
	Level        Level
	Zone         string
	Aisle        string
	Rack         string
	Shelf        string
	Bin          string
	Key          string
	Type         LocationType
	Capacity     decimal.Decimal
	CurrentUsage decimal.Decimal
	IsReserved   bool
	ProductID    *uuid.UUID
}

// NewLocation creates a location under parent (nil for a zone).
// code is this node's own segment; the full key is derived from the parent's segments.
func NewLocation(warehouseID uuid.UUID, parent *Location, code string, locType LocationType, capacity decimal.Decimal) (*Location, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := validateSegment(code); err != nil {
		return nil, err
	}
	if warehouseID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_LOCATION", "Warehouse ID cannot be empty")
	}
	if !locType.IsValid() {
		return nil, shared.NewDomainError("INVALID_LOCATION", fmt.Sprintf("Unknown location type %q", locType))
	}
	if capacity.IsNegative() {
		return nil, shared.NewDomainError("INVALID_LOCATION", "Capacity cannot be negative")
	}

	loc := &Location{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		WarehouseID:       warehouseID,
		Type:              locType,
		Capacity:          capacity,
		CurrentUsage:      decimal.Zero,
	}

	if parent == nil {
		loc.Level = LevelZone
	} else {
		if parent.WarehouseID != warehouseID {
			return nil, shared.NewDomainError("INVALID_LOCATION", "Parent belongs to another warehouse")
		}
		child, ok := parent.Level.Child()
		if !ok {
			return nil, shared.NewDomainError("INVALID_LOCATION", "Bins cannot have children")
		}
		parentID := parent.ID
		loc.ParentID = &parentID
		loc.Level = child
		loc.Zone, loc.Aisle, loc.Rack, loc.Shelf = parent.Zone, parent.Aisle, parent.Rack, parent.Shelf
	}

	switch loc.Level {
	case LevelZone:
		loc.Zone = code
	case LevelAisle:
		loc.Aisle = code
	case LevelRack:
		loc.Rack = code
	case LevelShelf:
		loc.Shelf = code
	case LevelBin:
		loc.Bin = code
	}
	loc.Key = BuildKey(loc.Segments()...)
	return loc, nil
}

// Segments returns the non-empty segment codes from zone down to this node
func (l *Location) Segments() []string {
	all := []string{l.Zone, l.Aisle, l.Rack, l.Shelf, l.Bin}
	return all[:l.Level.Depth()+1]
}

// IsBin reports whether the location is a leaf bin
func (l *Location) IsBin() bool {
	return l.Level == LevelBin
}

// IsBounded reports whether the location has a capacity limit
func (l *Location) IsBounded() bool {
	return l.Capacity.IsPositive()
}

// RemainingCapacity returns capacity minus usage; unbounded locations report false
func (l *Location) RemainingCapacity() (decimal.Decimal, bool) {
	if !l.IsBounded() {
		return decimal.Zero, false
	}
	return l.Capacity.Sub(l.CurrentUsage), true
}

// Hold marks the location as reserved so it accepts no new stock
func (l *Location) Hold() {
	if l.IsReserved {
		return
	}
	l.IsReserved = true
	l.MarkModified()
	l.AddDomainEvent(NewHoldChangedEvent(l))
}

// Unhold clears the hold flag
func (l *Location) Unhold() {
	if !l.IsReserved {
		return
	}
	l.IsReserved = false
	l.MarkModified()
	l.AddDomainEvent(NewHoldChangedEvent(l))
}

// checkReserve validates a reservation against this node alone
func (l *Location) checkReserve(productID uuid.UUID, qty decimal.Decimal) error {
	if l.IsReserved {
		return shared.NewDomainError("LOCATION_ON_HOLD", fmt.Sprintf("Location %s is on hold", l.Key))
	}
	if l.IsBin() && l.ProductID != nil && *l.ProductID != productID && l.CurrentUsage.IsPositive() {
		return shared.NewDomainError("LOCATION_OCCUPIED",
			fmt.Sprintf("Bin %s holds product %s", l.Key, l.ProductID.String()))
	}
	if remaining, bounded := l.RemainingCapacity(); bounded && qty.GreaterThan(remaining) {
		return shared.NewDomainError("LOCATION_CAPACITY_EXCEEDED",
			fmt.Sprintf("Location %s has %s remaining, requested %s", l.Key, remaining, qty))
	}
	return nil
}

func (l *Location) applyReserve(productID uuid.UUID, qty decimal.Decimal) {
	l.CurrentUsage = l.CurrentUsage.Add(qty)
	if l.IsBin() {
		pid := productID
		l.ProductID = &pid
	}
}

func (l *Location) checkRelease(qty decimal.Decimal) error {
	if qty.GreaterThan(l.CurrentUsage) {
		return shared.NewDomainError("LOCATION_USAGE_UNDERFLOW",
			fmt.Sprintf("Location %s usage %s is below release %s", l.Key, l.CurrentUsage, qty))
	}
	return nil
}

func (l *Location) applyRelease(qty decimal.Decimal) {
	l.CurrentUsage = l.CurrentUsage.Sub(qty)
	if l.IsBin() && l.CurrentUsage.IsZero() {
		l.ProductID = nil
	}
}

func validateSegment(code string) error {
	if code == "" {
		return shared.NewDomainError("INVALID_LOCATION", "Location code cannot be empty")
	}
	if strings.Contains(code, KeySeparator) {
		return shared.NewDomainError("INVALID_LOCATION",
			fmt.Sprintf("Location code %q cannot contain %q", code, KeySeparator))
	}
	if len(code) > 20 {
		return shared.NewDomainError("INVALID_LOCATION", "Location code cannot exceed 20 characters")
	}
	return nil
}
