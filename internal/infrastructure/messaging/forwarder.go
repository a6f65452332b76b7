package messaging

import (
	"context"
	"fmt"

	"github.com/erp/stockledger/internal/domain/shared"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher is the part of an AMQP channel the forwarder needs
type Publisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// Serializer encodes a domain event as its wire payload
type Serializer interface {
	Serialize(event shared.DomainEvent) ([]byte, error)
}

// EventForwarder publishes every delivered domain event to a topic exchange,
// routed by event type. A failed or nacked publish is returned so the outbox
// retries the event.
type EventForwarder struct {
	publisher  Publisher
	serializer Serializer
	exchange   string
	appID      string
	logger     *zap.Logger
}

// NewEventForwarder creates a forwarder publishing to exchange
func NewEventForwarder(publisher Publisher, serializer Serializer, exchange, appID string, logger *zap.Logger) *EventForwarder {
	return &EventForwarder{
		publisher:  publisher,
		serializer: serializer,
		exchange:   exchange,
		appID:      appID,
		logger:     logger,
	}
}

// EventTypes returns nil so the forwarder receives every event
func (f *EventForwarder) EventTypes() []string {
	return nil
}

// Handle publishes the event and waits for the broker's confirm when the
// channel is in confirm mode
func (f *EventForwarder) Handle(ctx context.Context, event shared.DomainEvent) error {
	body, err := f.serializer.Serialize(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.EventID().String(),
		CorrelationId: event.CorrelationID(),
		Type:          event.EventType(),
		Timestamp:     event.OccurredAt(),
		AppId:         f.appID,
		Headers: amqp.Table{
			"aggregate_type": event.AggregateType(),
			"aggregate_id":   event.AggregateID().String(),
		},
		Body: body,
	}

	confirm, err := f.publisher.PublishWithDeferredConfirmWithContext(ctx, f.exchange, event.EventType(), false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}
	if confirm != nil {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for confirm of %s: %w", event.EventType(), err)
		}
		if !acked {
			return fmt.Errorf("broker rejected %s %s", event.EventType(), event.EventID())
		}
	}

	f.logger.Debug("event forwarded",
		zap.String("exchange", f.exchange),
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
	)
	return nil
}

// Ensure EventForwarder implements EventHandler
var _ shared.EventHandler = (*EventForwarder)(nil)
