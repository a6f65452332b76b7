package shared

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHeader_Correlate(t *testing.T) {
	evt := &testEvent{EventHeader: NewEventHeader("MovementCommitted", "StockMovement", uuid.New())}
	assert.Empty(t, evt.CorrelationID())

	evt.Correlate("")
	assert.Empty(t, evt.CorrelationID())

	evt.Correlate("rcv-42")
	evt.Correlate("pm-9")
	assert.Equal(t, "rcv-42", evt.CorrelationID())

	entry := NewOutboxEntry(evt, []byte(`{}`))
	assert.Equal(t, "rcv-42", entry.CorrelationID)
}

func TestEventHeader_JSON(t *testing.T) {
	aggID := uuid.New()
	evt := &testEvent{EventHeader: NewEventHeader("LocationHoldChanged", "Location", aggID)}

	data, err := json.Marshal(evt)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "LocationHoldChanged", fields["event_type"])
	assert.Equal(t, aggID.String(), fields["aggregate_id"])
	assert.Equal(t, "Location", fields["aggregate_type"])
	assert.NotContains(t, fields, "correlation_id")

	var decoded testEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, evt.EventID(), decoded.EventID())
	assert.True(t, evt.OccurredAt().Equal(decoded.OccurredAt()))
}
