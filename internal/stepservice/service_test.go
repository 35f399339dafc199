package stepservice

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagaflow.io/sagaflow/internal/broker"
	"sagaflow.io/sagaflow/internal/orchestrator"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/store"
)

func command(t *testing.T, stepName string, payload saga.Payload) (saga.CommandEvent, broker.Message) {
	t.Helper()
	step := saga.Step{Name: stepName, CommandTopic: "cmd"}
	cmd := saga.NewStepCommand("saga-1", step, "saga-response", payload)
	data, err := cmd.Encode()
	require.NoError(t, err)
	return cmd, broker.Message{Topic: "cmd", Key: cmd.SagaID, Value: data}
}

func lastResponse(t *testing.T, bus *broker.MemoryBus) saga.ResponseEvent {
	t.Helper()
	msgs := bus.PublishedTo("saga-response")
	require.NotEmpty(t, msgs)
	resp, err := saga.DecodeResponse(msgs[len(msgs)-1].Value)
	require.NoError(t, err)
	return resp
}

func TestHandleSuccess(t *testing.T) {
	bus := broker.NewMemoryBus()
	svc := New("test", bus, nil)
	svc.Register("S0", func(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
		return saga.Payload{"out": "ok"}, nil
	})

	_, msg := command(t, "S0", saga.Payload{"in": 1})
	require.NoError(t, svc.Handle(context.Background(), msg))

	resp := lastResponse(t, bus)
	assert.True(t, resp.Success)
	assert.Equal(t, "saga-1", resp.SagaID)
	assert.Equal(t, "S0", resp.StepName)
	assert.Equal(t, "ok", resp.Payload["out"])
	assert.Equal(t, "saga-1", bus.PublishedTo("saga-response")[0].Key, "responses keyed by saga id")
}

func TestHandleFailure(t *testing.T) {
	bus := broker.NewMemoryBus()
	svc := New("test", bus, nil)
	svc.Register("S0", func(_ context.Context, _ saga.CommandEvent) (saga.Payload, error) {
		return nil, errors.New("model exploded")
	})

	_, msg := command(t, "S0", nil)
	require.NoError(t, svc.Handle(context.Background(), msg))

	resp := lastResponse(t, bus)
	assert.False(t, resp.Success)
	assert.Equal(t, "model exploded", resp.ErrorMessage)
}

func TestHandleUnknownStepAnswersFailure(t *testing.T) {
	bus := broker.NewMemoryBus()
	svc := New("test", bus, nil)

	_, msg := command(t, "NOPE", nil)
	require.NoError(t, svc.Handle(context.Background(), msg))

	resp := lastResponse(t, bus)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.ErrorMessage, "no handler")
}

func TestHandleDropsGarbage(t *testing.T) {
	bus := broker.NewMemoryBus()
	svc := New("test", bus, nil)
	require.NoError(t, svc.Handle(context.Background(), broker.Message{Topic: "cmd", Value: []byte("nope")}))
	assert.Empty(t, bus.Published())
}

func TestCompensationRouting(t *testing.T) {
	bus := broker.NewMemoryBus()
	svc := New("test", bus, nil)
	svc.RegisterCompensation("S0", func(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
		assert.True(t, cmd.IsCompensation())
		return saga.Payload{"undone": true}, nil
	})

	step := saga.Step{Name: "S0", CommandTopic: "cmd", HasCompensation: true, CompensationTopic: "comp"}
	cmd := saga.NewCompensationCommand("saga-1", step, "saga-response", nil)
	data, err := cmd.Encode()
	require.NoError(t, err)

	require.NoError(t, svc.Handle(context.Background(), broker.Message{Topic: "comp", Value: data}))

	resp := lastResponse(t, bus)
	assert.True(t, resp.Success)
	assert.Equal(t, "S0"+saga.CompensationSuffix, resp.StepName)
	assert.Equal(t, saga.EventSagaCompensating, resp.EventType)
}

// The demo handlers wired over an in-memory bus drive the full batch
// pipeline through the orchestrator: start to COMPLETED with every
// step's output merged.
func TestDemoPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	bus := broker.NewMemoryBus()
	st := store.NewMemory()

	registry := saga.NewRegistry()
	defs, err := saga.BuiltinDefinitions(saga.TopicSagaResponse)
	require.NoError(t, err)
	for _, def := range defs {
		registry.Register(def)
	}
	orch := orchestrator.New(registry, st, bus, nil)
	listener := orchestrator.NewResponseListener(orch)
	bus.Subscribe(saga.TopicSagaResponse, listener.Handle)

	svc := New("demo", bus, nil)
	RegisterDemoHandlers(svc)
	for _, topic := range saga.CommandTopics(defs) {
		bus.Subscribe(topic, svc.Handle)
	}

	sagaID, err := orch.StartSaga(ctx, saga.TypeAIBatchInference, saga.Payload{"batchSize": float64(25)})
	require.NoError(t, err)

	state, err := st.GetState(ctx, sagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, state.Status)
	assert.NotEmpty(t, state.SagaData["batchId"])
	assert.NotEmpty(t, state.SagaData["aggregateId"])
	assert.NotEmpty(t, state.SagaData["exportLocation"])
}

// Failing the aggregation step compensates the batch load and inference
// steps and lands on COMPENSATION_COMPLETED.
func TestDemoPipelineCompensation(t *testing.T) {
	ctx := context.Background()
	bus := broker.NewMemoryBus()
	st := store.NewMemory()

	registry := saga.NewRegistry()
	defs, err := saga.BuiltinDefinitions(saga.TopicSagaResponse)
	require.NoError(t, err)
	for _, def := range defs {
		registry.Register(def)
	}
	orch := orchestrator.New(registry, st, bus, nil)
	listener := orchestrator.NewResponseListener(orch)
	bus.Subscribe(saga.TopicSagaResponse, listener.Handle)

	svc := New("demo", bus, nil)
	RegisterDemoHandlers(svc)
	for _, topic := range saga.CommandTopics(defs) {
		bus.Subscribe(topic, svc.Handle)
	}

	sagaID, err := orch.StartSaga(ctx, saga.TypeAIBatchInference,
		saga.Payload{"simulateFailure": "AGGREGATE_RESULTS"})
	require.NoError(t, err)

	state, err := st.GetState(ctx, sagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompensationCompleted, state.Status)

	events, err := st.GetEvents(ctx, sagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.EventSagaCompensationComplete, events[len(events)-1].EventType)
}
