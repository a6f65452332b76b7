package location

import (
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypeLocationCapacityChanged = "LocationCapacityChanged"
	EventTypeLocationHoldChanged     = "LocationHoldChanged"
)

// CapacityChangedEvent is raised when stock is reserved into or released from a location
type CapacityChangedEvent struct {
	shared.EventHeader
	LocationID   uuid.UUID       `json:"location_id"`
	WarehouseID  uuid.UUID       `json:"warehouse_id"`
	Key          string          `json:"key"`
	Delta        decimal.Decimal `json:"delta"`
	CurrentUsage decimal.Decimal `json:"current_usage"`
	Capacity     decimal.Decimal `json:"capacity"`
	ProductID    *uuid.UUID      `json:"product_id,omitempty"`
}

// NewCapacityChangedEvent creates a CapacityChangedEvent from the location's current state
func NewCapacityChangedEvent(loc *Location, delta decimal.Decimal) *CapacityChangedEvent {
	return &CapacityChangedEvent{
		EventHeader:  shared.NewEventHeader(EventTypeLocationCapacityChanged, AggregateTypeLocation, loc.ID),
		LocationID:   loc.ID,
		WarehouseID:  loc.WarehouseID,
		Key:          loc.Key,
		Delta:        delta,
		CurrentUsage: loc.CurrentUsage,
		Capacity:     loc.Capacity,
		ProductID:    loc.ProductID,
	}
}

// HoldChangedEvent is raised when a location is put on or taken off hold
type HoldChangedEvent struct {
	shared.EventHeader
	LocationID uuid.UUID `json:"location_id"`
	Key        string    `json:"key"`
	OnHold     bool      `json:"on_hold"`
}

// NewHoldChangedEvent creates a HoldChangedEvent
func NewHoldChangedEvent(loc *Location) *HoldChangedEvent {
	return &HoldChangedEvent{
		EventHeader: shared.NewEventHeader(EventTypeLocationHoldChanged, AggregateTypeLocation, loc.ID),
		LocationID:  loc.ID,
		Key:         loc.Key,
		OnHold:      loc.IsReserved,
	}
}
