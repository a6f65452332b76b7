package event

import (
	"context"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/logger"
	"gorm.io/gorm"
)

// OutboxPublisher writes domain events to the outbox inside a transaction
type OutboxPublisher struct {
	serializer *EventSerializer
	maxRetries int
}

// NewOutboxPublisher creates a new outbox publisher. maxRetries bounds the
// delivery attempts of each entry; zero keeps shared.DefaultMaxRetries.
func NewOutboxPublisher(serializer *EventSerializer, maxRetries int) *OutboxPublisher {
	return &OutboxPublisher{
		serializer: serializer,
		maxRetries: maxRetries,
	}
}

// PublishWithTx stores events in the outbox of tx, so they are persisted
// atomically with the aggregate changes that raised them. Events without a
// correlation id take the one carried by ctx.
func (p *OutboxPublisher) PublishWithTx(ctx context.Context, tx *gorm.DB, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	correlation := logger.GetCorrelationID(ctx)
	entries := make([]*shared.OutboxEntry, 0, len(events))
	for _, event := range events {
		if correlation != "" {
			event.Correlate(correlation)
		}
		payload, err := p.serializer.Serialize(event)
		if err != nil {
			return err
		}
		entry := shared.NewOutboxEntry(event, payload)
		if p.maxRetries > 0 {
			entry.MaxRetries = p.maxRetries
		}
		entries = append(entries, entry)
	}

	return NewGormOutboxRepository(tx).Save(ctx, entries...)
}

// Recorder binds the publisher to a transaction
func (p *OutboxPublisher) Recorder(tx *gorm.DB) shared.EventRecorder {
	return txRecorder{publisher: p, tx: tx}
}

type txRecorder struct {
	publisher *OutboxPublisher
	tx        *gorm.DB
}

func (r txRecorder) Record(ctx context.Context, events ...shared.DomainEvent) error {
	return r.publisher.PublishWithTx(ctx, r.tx, events...)
}
