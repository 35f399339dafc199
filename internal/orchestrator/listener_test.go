package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagaflow.io/sagaflow/internal/broker"
	"sagaflow.io/sagaflow/internal/saga"
)

func TestListenerDropsGarbage(t *testing.T) {
	f := newFixture(t, twoStepDefinition(t))
	listener := NewResponseListener(f.orch)

	err := listener.Handle(context.Background(), broker.Message{
		Topic: "saga-response",
		Value: []byte("{not json"),
	})
	assert.NoError(t, err, "poison messages must not block the partition")
}

func TestListenerDropsUnknownSaga(t *testing.T) {
	f := newFixture(t, twoStepDefinition(t))
	listener := NewResponseListener(f.orch)

	resp := saga.ResponseEvent{
		EventID: "evt-1",
		SagaID:  "no-such-saga",
		Success: true,
	}
	data, err := resp.Encode()
	require.NoError(t, err)

	err = listener.Handle(context.Background(), broker.Message{Topic: "saga-response", Value: data})
	assert.NoError(t, err, "a response without a saga can never be processed; drop it")
}

// End to end through the bus: the listener subscribed to the response
// topic drives the saga exactly like direct HandleResponse calls.
func TestListenerDrivesSaga(t *testing.T) {
	f := newFixture(t, twoStepDefinition(t))
	ctx := context.Background()
	listener := NewResponseListener(f.orch)
	f.bus.Subscribe("saga-response", listener.Handle)

	sagaID, err := f.orch.StartSaga(ctx, "T", saga.Payload{"x": 1})
	require.NoError(t, err)

	for _, topic := range []string{"topicA", "topicB"} {
		resp := decodeCommand(t, f.bus, topic).SuccessResponse(saga.Payload{topic: true})
		data, err := resp.Encode()
		require.NoError(t, err)
		require.NoError(t, f.bus.Publish(ctx, "saga-response", resp.SagaID, data))
	}

	state, err := f.store.GetState(ctx, sagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, state.Status)
	assert.Equal(t, true, state.SagaData["topicA"])
}
