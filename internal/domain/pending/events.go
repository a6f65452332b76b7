package pending

import (
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePendingMovementCompleted = "PendingMovementCompleted"
	EventTypePendingMovementCancelled = "PendingMovementCancelled"
)

// CompletedEvent is raised when a pending movement commits its movement
type CompletedEvent struct {
	shared.EventHeader
	PendingMovementID uuid.UUID       `json:"pending_movement_id"`
	Kind              Kind            `json:"kind"`
	ProductID         uuid.UUID       `json:"product_id"`
	LocationID        uuid.UUID       `json:"location_id"`
	ExpectedQuantity  decimal.Decimal `json:"expected_quantity"`
	ScannedQuantity   decimal.Decimal `json:"scanned_quantity"`
	MovementID        uuid.UUID       `json:"movement_id"`
}

// NewCompletedEvent creates a CompletedEvent
func NewCompletedEvent(p *PendingMovement) *CompletedEvent {
	e := &CompletedEvent{
		EventHeader:       shared.NewEventHeader(EventTypePendingMovementCompleted, AggregateTypePendingMovement, p.ID),
		PendingMovementID: p.ID,
		Kind:              p.Kind,
		ProductID:         p.ProductID,
		LocationID:        p.LocationID,
		ExpectedQuantity:  p.ExpectedQuantity,
		ScannedQuantity:   p.ScannedQuantity,
	}
	if p.MovementID != nil {
		e.MovementID = *p.MovementID
	}
	return e
}

// CancelledEvent is raised when a pending movement is cancelled
type CancelledEvent struct {
	shared.EventHeader
	PendingMovementID uuid.UUID `json:"pending_movement_id"`
	Kind              Kind      `json:"kind"`
	ProductID         uuid.UUID `json:"product_id"`
	Reason            string    `json:"reason,omitempty"`
}

// NewCancelledEvent creates a CancelledEvent
func NewCancelledEvent(p *PendingMovement, reason string) *CancelledEvent {
	return &CancelledEvent{
		EventHeader:       shared.NewEventHeader(EventTypePendingMovementCancelled, AggregateTypePendingMovement, p.ID),
		PendingMovementID: p.ID,
		Kind:              p.Kind,
		ProductID:         p.ProductID,
		Reason:            reason,
	}
}
