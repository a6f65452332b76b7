package ledger

import (
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	AggregateTypeMovement = "StockMovement"

	EventTypeMovementCommitted       = "MovementCommitted"
	EventTypeLedgerIntegrityViolated = "LedgerIntegrityViolated"
)

// MovementCommittedEvent is raised once per committed movement
type MovementCommittedEvent struct {
	shared.EventHeader
	MovementID     uuid.UUID       `json:"movement_id"`
	IdempotencyID  string          `json:"idempotency_id"`
	ProductID      uuid.UUID       `json:"product_id"`
	MovementType   MovementType    `json:"movement_type"`
	FromLocationID *uuid.UUID      `json:"from_location_id,omitempty"`
	ToLocationID   *uuid.UUID      `json:"to_location_id,omitempty"`
	QuantityDelta  decimal.Decimal `json:"quantity_delta"`
	Reference      string          `json:"reference,omitempty"`
	CommitSequence int64           `json:"commit_sequence"`
	MovedAt        time.Time       `json:"moved_at"`
}

// NewMovementCommittedEvent creates the event for a committed movement
func NewMovementCommittedEvent(m *Movement) *MovementCommittedEvent {
	return &MovementCommittedEvent{
		EventHeader:    shared.NewEventHeader(EventTypeMovementCommitted, AggregateTypeMovement, m.ID),
		MovementID:     m.ID,
		IdempotencyID:  m.IdempotencyID,
		ProductID:      m.ProductID,
		MovementType:   m.Type,
		FromLocationID: m.FromLocationID,
		ToLocationID:   m.ToLocationID,
		QuantityDelta:  m.QuantityDelta,
		Reference:      m.Reference,
		CommitSequence: m.CommitSequence,
		MovedAt:        m.OccurredAt,
	}
}

// LedgerIntegrityViolatedEvent is raised when a balance no longer matches its movement history
type LedgerIntegrityViolatedEvent struct {
	shared.EventHeader
	ProductID  uuid.UUID       `json:"product_id"`
	LocationID uuid.UUID       `json:"location_id"`
	Balance    decimal.Decimal `json:"balance"`
	Folded     decimal.Decimal `json:"folded"`
}

// NewLedgerIntegrityViolatedEvent creates the event for a discrepancy
func NewLedgerIntegrityViolatedEvent(b *Balance, d Discrepancy) *LedgerIntegrityViolatedEvent {
	return &LedgerIntegrityViolatedEvent{
		EventHeader: shared.NewEventHeader(EventTypeLedgerIntegrityViolated, AggregateTypeBalance, b.ID),
		ProductID:   d.Key.ProductID,
		LocationID:  d.Key.LocationID,
		Balance:     d.Balance,
		Folded:      d.Folded,
	}
}
