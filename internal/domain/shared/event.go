package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact recorded by a stock ledger transaction and delivered
// through the outbox.
//
// CorrelationID names the workflow the event belongs to: the idempotency id
// of the intent that committed it, or the pending movement a scan advanced.
// It is empty for events raised by maintenance jobs.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
	CorrelationID() string
	// Correlate sets the correlation id unless one is already set
	Correlate(id string)
}

// EventHeader is the envelope embedded by every stock event. Its JSON form
// is the header of the outbox payload and of the published message body.
type EventHeader struct {
	ID          uuid.UUID `json:"event_id"`
	Type        string    `json:"event_type"`
	At          time.Time `json:"occurred_at"`
	Aggregate   uuid.UUID `json:"aggregate_id"`
	Kind        string    `json:"aggregate_type"`
	Correlation string    `json:"correlation_id,omitempty"`
}

// NewEventHeader creates the header of an event raised now
func NewEventHeader(eventType, aggregateType string, aggregateID uuid.UUID) EventHeader {
	return EventHeader{
		ID:        uuid.New(),
		Type:      eventType,
		At:        time.Now().UTC(),
		Aggregate: aggregateID,
		Kind:      aggregateType,
	}
}

func (h *EventHeader) EventID() uuid.UUID     { return h.ID }
func (h *EventHeader) EventType() string      { return h.Type }
func (h *EventHeader) OccurredAt() time.Time  { return h.At }
func (h *EventHeader) AggregateID() uuid.UUID { return h.Aggregate }
func (h *EventHeader) AggregateType() string  { return h.Kind }
func (h *EventHeader) CorrelationID() string  { return h.Correlation }

// Correlate sets the correlation id unless one is already set
func (h *EventHeader) Correlate(id string) {
	if h.Correlation == "" {
		h.Correlation = id
	}
}
