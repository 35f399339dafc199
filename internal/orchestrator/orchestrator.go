// Package orchestrator drives saga execution: forward steps, failure
// handling, and backward compensation. It has no scheduler of its own;
// every transition runs inside a broker consumer call stack or an HTTP
// handler, and correctness relies on the broker delivering one saga's
// messages in order to one consumer at a time. The store-side guards
// (event id dedup, optimistic state version) reject anything that slips
// past that contract.
package orchestrator

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/broker"
	apperrors "sagaflow.io/sagaflow/internal/pkg/errors"
	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/store"
)

// Notifier receives every event appended to a saga's log so it can be
// fanned out to live subscribers. Implementations must not block the
// caller; publish failures are the notifier's problem, not the saga's.
type Notifier interface {
	Notify(ctx context.Context, event *store.Event)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *store.Event) {}

// Orchestrator executes sagas against a definition registry, an event
// store, and a keyed message broker.
type Orchestrator struct {
	registry  *saga.Registry
	store     store.Store
	publisher broker.Publisher
	notifier  Notifier
}

// New wires an Orchestrator. notifier may be nil.
func New(registry *saga.Registry, st store.Store, publisher broker.Publisher, notifier Notifier) *Orchestrator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Orchestrator{
		registry:  registry,
		store:     st,
		publisher: publisher,
		notifier:  notifier,
	}
}

// StartSaga creates a new saga of the given type, records SAGA_STARTED,
// and dispatches the first step's command. It returns the generated saga
// id.
func (o *Orchestrator) StartSaga(ctx context.Context, sagaType string, sagaData saga.Payload) (string, error) {
	def, err := o.registry.Get(sagaType)
	if err != nil {
		return "", err
	}
	if sagaData == nil {
		sagaData = saga.Payload{}
	}

	sagaID := uuid.NewString()

	state := store.NewState(sagaID, sagaType, def.TotalSteps(), sagaData)
	if err := o.store.CreateState(ctx, state); err != nil {
		return "", err
	}

	if err := o.appendEvent(ctx, &store.Event{
		EventID:   uuid.NewString(),
		SagaID:    sagaID,
		EventType: saga.EventSagaStarted,
		Payload:   sagaData,
		Success:   true,
	}); err != nil {
		return "", err
	}

	logger.Info("saga started",
		zap.String("saga_id", sagaID),
		zap.String("saga_type", sagaType),
		zap.Int("total_steps", def.TotalSteps()))

	if err := o.ExecuteStep(ctx, state, def, 0, sagaData); err != nil {
		return "", err
	}
	return sagaID, nil
}

// ExecuteStep marks the saga IN_PROGRESS at stepIndex, records the
// command event, and publishes the step's command keyed by saga id.
// An out-of-range index is a no-op.
func (o *Orchestrator) ExecuteStep(ctx context.Context, state *store.SagaState, def *saga.Definition, stepIndex int, sagaData saga.Payload) error {
	step, ok := def.Step(stepIndex)
	if !ok {
		return nil
	}

	status := saga.StatusInProgress
	updated, err := o.store.UpdateState(ctx, state.SagaID, store.StateUpdate{
		Status:           &status,
		CurrentStepIndex: &stepIndex,
		ExpectedVersion:  &state.Version,
	})
	if err != nil {
		return err
	}
	*state = *updated

	cmd := saga.NewStepCommand(state.SagaID, step, def.ResponseTopic, sagaData)
	if err := o.appendEvent(ctx, store.EventFromCommand(cmd)); err != nil {
		return err
	}
	if err := o.publishCommand(ctx, cmd); err != nil {
		return err
	}

	logger.Info("step dispatched",
		zap.String("saga_id", state.SagaID),
		zap.String("step", step.Name),
		zap.Int("step_index", stepIndex),
		zap.String("topic", step.CommandTopic))
	return nil
}

// HandleResponse processes one response from the shared response topic.
// Duplicate event ids are skipped, responses targeting terminal sagas
// are dropped, and the response is routed by the saga's current status:
// COMPENSATING sagas take the compensation path, everything else the
// forward path.
func (o *Orchestrator) HandleResponse(ctx context.Context, resp saga.ResponseEvent) error {
	state, def, skip, err := o.admitResponse(ctx, resp)
	if err != nil || skip {
		return err
	}
	if state.Status == saga.StatusCompensating {
		return o.compensationResponse(ctx, state, def, resp)
	}
	return o.stepResponse(ctx, state, def, resp)
}

// HandleCompensationResponse processes a response to a compensation
// command, with the same dedup and terminal guards as HandleResponse.
func (o *Orchestrator) HandleCompensationResponse(ctx context.Context, resp saga.ResponseEvent) error {
	state, def, skip, err := o.admitResponse(ctx, resp)
	if err != nil || skip {
		return err
	}
	return o.compensationResponse(ctx, state, def, resp)
}

// admitResponse applies the at-least-once guards. skip=true means the
// response was legitimately dropped (already seen, or the saga is done).
func (o *Orchestrator) admitResponse(ctx context.Context, resp saga.ResponseEvent) (state *store.SagaState, def *saga.Definition, skip bool, err error) {
	seen, err := o.store.HasEvent(ctx, resp.EventID)
	if err != nil {
		return nil, nil, false, err
	}
	if seen {
		logger.Debug("duplicate response skipped",
			zap.String("saga_id", resp.SagaID),
			zap.String("event_id", resp.EventID))
		return nil, nil, true, nil
	}

	state, err = o.store.GetState(ctx, resp.SagaID)
	if err != nil {
		return nil, nil, false, err
	}
	if state.Terminal() {
		logger.Warn("response for terminal saga dropped",
			zap.String("saga_id", resp.SagaID),
			zap.String("status", string(state.Status)),
			zap.String("step", resp.StepName))
		return nil, nil, true, nil
	}

	def, err = o.registry.Get(state.SagaType)
	if err != nil {
		return nil, nil, false, err
	}
	return state, def, false, nil
}

func (o *Orchestrator) stepResponse(ctx context.Context, state *store.SagaState, def *saga.Definition, resp saga.ResponseEvent) error {
	if err := o.appendEvent(ctx, store.EventFromResponse(resp)); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateEvent) {
			return nil
		}
		return err
	}

	if resp.Success {
		return o.stepSucceeded(ctx, state, def, resp)
	}
	return o.stepFailed(ctx, state, def, resp)
}

func (o *Orchestrator) stepSucceeded(ctx context.Context, state *store.SagaState, def *saga.Definition, resp saga.ResponseEvent) error {
	if err := o.appendEvent(ctx, &store.Event{
		EventID:   uuid.NewString(),
		SagaID:    state.SagaID,
		EventType: saga.EventSagaStepCompleted,
		Payload: saga.MergePayload(resp.Payload, saga.Payload{
			saga.PayloadKeyStepName:  resp.StepName,
			saga.PayloadKeyStepIndex: resp.StepIndex,
		}),
		StepName:  resp.StepName,
		StepIndex: &resp.StepIndex,
		Success:   true,
	}); err != nil {
		return err
	}

	sagaData := saga.MergePayload(state.SagaData, resp.Payload)
	updated, err := o.store.UpdateState(ctx, state.SagaID, store.StateUpdate{
		SagaData:        sagaData,
		ExpectedVersion: &state.Version,
	})
	if err != nil {
		return err
	}
	*state = *updated

	nextStepIndex := resp.StepIndex + 1
	if nextStepIndex >= def.TotalSteps() {
		return o.completeSaga(ctx, state)
	}
	return o.ExecuteStep(ctx, state, def, nextStepIndex, sagaData)
}

func (o *Orchestrator) stepFailed(ctx context.Context, state *store.SagaState, def *saga.Definition, resp saga.ResponseEvent) error {
	errorMessage := resp.ErrorMessage
	if errorMessage == "" {
		errorMessage = "unknown error"
	}
	if err := o.appendEvent(ctx, &store.Event{
		EventID:   uuid.NewString(),
		SagaID:    state.SagaID,
		EventType: saga.EventSagaStepFailed,
		Payload: saga.Payload{
			saga.PayloadKeyStepName:  resp.StepName,
			saga.PayloadKeyStepIndex: resp.StepIndex,
			"errorMessage":           errorMessage,
		},
		StepName:     resp.StepName,
		StepIndex:    &resp.StepIndex,
		ErrorMessage: errorMessage,
	}); err != nil {
		return err
	}

	logger.Warn("step failed",
		zap.String("saga_id", state.SagaID),
		zap.String("step", resp.StepName),
		zap.String("error", errorMessage))

	return o.StartCompensation(ctx, state, def, resp.StepIndex-1)
}

// StartCompensation marks the saga COMPENSATING and rolls back completed
// steps starting from fromStepIndex downward. A negative index means
// nothing completed before the failure, so the saga fails outright.
func (o *Orchestrator) StartCompensation(ctx context.Context, state *store.SagaState, def *saga.Definition, fromStepIndex int) error {
	if fromStepIndex < 0 {
		return o.failSaga(ctx, state)
	}

	status := saga.StatusCompensating
	updated, err := o.store.UpdateState(ctx, state.SagaID, store.StateUpdate{
		Status:          &status,
		ExpectedVersion: &state.Version,
	})
	if err != nil {
		return err
	}
	*state = *updated

	if err := o.appendEvent(ctx, &store.Event{
		EventID:   uuid.NewString(),
		SagaID:    state.SagaID,
		EventType: saga.EventSagaCompensating,
		Payload:   saga.Payload{"fromStepIndex": fromStepIndex},
		Success:   true,
	}); err != nil {
		return err
	}

	logger.Info("compensation started",
		zap.String("saga_id", state.SagaID),
		zap.Int("from_step", fromStepIndex))

	return o.ExecuteCompensationStep(ctx, state, def, fromStepIndex)
}

// ExecuteCompensationStep publishes the compensation command for
// stepIndex, skipping backwards over non-compensable steps. Once the
// index goes negative the rollback is complete.
func (o *Orchestrator) ExecuteCompensationStep(ctx context.Context, state *store.SagaState, def *saga.Definition, stepIndex int) error {
	for ; stepIndex >= 0; stepIndex-- {
		step, ok := def.Step(stepIndex)
		if !ok {
			continue
		}
		if !step.HasCompensation {
			continue
		}

		cmd := saga.NewCompensationCommand(state.SagaID, step, def.ResponseTopic, state.SagaData)
		if err := o.appendEvent(ctx, store.EventFromCommand(cmd)); err != nil {
			return err
		}
		if err := o.publishCommand(ctx, cmd); err != nil {
			return err
		}

		logger.Info("compensation step dispatched",
			zap.String("saga_id", state.SagaID),
			zap.String("step", step.Name),
			zap.Int("step_index", stepIndex))
		return nil
	}
	return o.completeCompensation(ctx, state)
}

func (o *Orchestrator) compensationResponse(ctx context.Context, state *store.SagaState, def *saga.Definition, resp saga.ResponseEvent) error {
	if err := o.appendEvent(ctx, store.EventFromResponse(resp)); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateEvent) {
			return nil
		}
		return err
	}

	if !resp.Success {
		// A failed compensation cannot be retried automatically; the saga
		// is parked FAILED for manual intervention.
		logger.Error("compensation failed",
			zap.String("saga_id", state.SagaID),
			zap.String("step", resp.StepName),
			zap.String("error", resp.ErrorMessage))
		return o.failSaga(ctx, state)
	}

	return o.ExecuteCompensationStep(ctx, state, def, resp.StepIndex-1)
}

func (o *Orchestrator) completeSaga(ctx context.Context, state *store.SagaState) error {
	if err := o.finish(ctx, state, saga.StatusCompleted, saga.EventSagaCompleted); err != nil {
		return err
	}
	logger.Info("saga completed", zap.String("saga_id", state.SagaID))
	return nil
}

func (o *Orchestrator) completeCompensation(ctx context.Context, state *store.SagaState) error {
	if err := o.finish(ctx, state, saga.StatusCompensationCompleted, saga.EventSagaCompensationComplete); err != nil {
		return err
	}
	logger.Info("compensation completed", zap.String("saga_id", state.SagaID))
	return nil
}

func (o *Orchestrator) failSaga(ctx context.Context, state *store.SagaState) error {
	if err := o.finish(ctx, state, saga.StatusFailed, saga.EventSagaFailed); err != nil {
		return err
	}
	logger.Error("saga failed", zap.String("saga_id", state.SagaID))
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, state *store.SagaState, status saga.Status, eventType saga.EventType) error {
	updated, err := o.store.UpdateState(ctx, state.SagaID, store.StateUpdate{
		Status:          &status,
		ExpectedVersion: &state.Version,
	})
	if err != nil {
		return err
	}
	*state = *updated
	return o.appendEvent(ctx, &store.Event{
		EventID:   uuid.NewString(),
		SagaID:    state.SagaID,
		EventType: eventType,
		Payload:   saga.Payload{},
		Success:   true,
	})
}

// appendEvent persists the event and forwards it to the notifier with
// its store-assigned sequence number.
func (o *Orchestrator) appendEvent(ctx context.Context, event *store.Event) error {
	stored, err := o.store.AppendEvent(ctx, event)
	if err != nil {
		return err
	}
	o.notifier.Notify(ctx, stored)
	return nil
}

func (o *Orchestrator) publishCommand(ctx context.Context, cmd saga.CommandEvent) error {
	data, err := cmd.Encode()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode command event", http.StatusInternalServerError)
	}
	if err := o.publisher.Publish(ctx, cmd.CommandTopic, cmd.SagaID, data); err != nil {
		return apperrors.Wrap(err, apperrors.CodePublishFailure, "publish command event", http.StatusInternalServerError)
	}
	return nil
}
