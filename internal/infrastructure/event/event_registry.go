package event

import (
	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/location"
	"github.com/erp/stockledger/internal/domain/pending"
)

// RegisterStockEvents registers every stock ledger event with the serializer.
// The outbox processor can only deliver registered event types.
func RegisterStockEvents(serializer *EventSerializer) {
	serializer.Register(ledger.EventTypeMovementCommitted, &ledger.MovementCommittedEvent{})
	serializer.Register(ledger.EventTypeLedgerIntegrityViolated, &ledger.LedgerIntegrityViolatedEvent{})

	serializer.Register(location.EventTypeLocationCapacityChanged, &location.CapacityChangedEvent{})
	serializer.Register(location.EventTypeLocationHoldChanged, &location.HoldChangedEvent{})

	serializer.Register(pending.EventTypePendingMovementCompleted, &pending.CompletedEvent{})
	serializer.Register(pending.EventTypePendingMovementCancelled, &pending.CancelledEvent{})

	serializer.Register(analytics.EventTypeReorderRecommended, &analytics.ReorderRecommendedEvent{})
}
