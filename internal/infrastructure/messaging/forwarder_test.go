package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (p *fakePublisher) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.sent = append(p.sent, published{exchange: exchange, key: key, msg: msg})
	return nil, nil
}

type jsonSerializer struct{}

func (jsonSerializer) Serialize(event shared.DomainEvent) ([]byte, error) {
	return json.Marshal(event)
}

type holdEvent struct {
	shared.EventHeader
	Key string `json:"key"`
}

func newHoldEvent() *holdEvent {
	return &holdEvent{
		EventHeader: shared.NewEventHeader("LocationHoldChanged", "Location", uuid.New()),
		Key:         "A-01-02-03-04",
	}
}

func TestEventForwarder_Handle(t *testing.T) {
	pub := &fakePublisher{}
	f := NewEventForwarder(pub, jsonSerializer{}, "stockledger.events", "stockledger", zap.NewNop())
	event := newHoldEvent()
	event.Correlate("pm-7f3a")

	require.NoError(t, f.Handle(context.Background(), event))
	require.Len(t, pub.sent, 1)

	sent := pub.sent[0]
	assert.Equal(t, "stockledger.events", sent.exchange)
	assert.Equal(t, "LocationHoldChanged", sent.key)
	assert.Equal(t, event.EventID().String(), sent.msg.MessageId)
	assert.Equal(t, "LocationHoldChanged", sent.msg.Type)
	assert.Equal(t, "stockledger", sent.msg.AppId)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, event.AggregateID().String(), sent.msg.Headers["aggregate_id"])
	assert.Equal(t, "pm-7f3a", sent.msg.CorrelationId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(sent.msg.Body, &body))
	assert.Equal(t, "A-01-02-03-04", body["key"])
	assert.Equal(t, "pm-7f3a", body["correlation_id"])
	assert.Equal(t, "LocationHoldChanged", body["event_type"])
}

func TestEventForwarder_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	f := NewEventForwarder(pub, jsonSerializer{}, "stockledger.events", "stockledger", zap.NewNop())

	err := f.Handle(context.Background(), newHoldEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestEventForwarder_SubscribesToEverything(t *testing.T) {
	f := NewEventForwarder(&fakePublisher{}, jsonSerializer{}, "x", "app", zap.NewNop())
	assert.Empty(t, f.EventTypes())
}
