// Package saga defines the saga model: step and definition catalog,
// lifecycle status, event types, and the command/response wire envelopes
// exchanged with step services over the broker.
package saga

// EventType identifies a saga lifecycle event in the append-only log and
// on the wire.
type EventType string

const (
	EventSagaStarted              EventType = "SAGA_STARTED"
	EventSagaStepStarted          EventType = "SAGA_STEP_STARTED"
	EventSagaStepCompleted        EventType = "SAGA_STEP_COMPLETED"
	EventSagaStepFailed           EventType = "SAGA_STEP_FAILED"
	EventSagaCompensating         EventType = "SAGA_COMPENSATING"
	EventSagaCompensationComplete EventType = "SAGA_COMPENSATION_COMPLETED"
	EventSagaCompleted            EventType = "SAGA_COMPLETED"
	EventSagaFailed               EventType = "SAGA_FAILED"
)

// Terminal reports whether the event type ends the saga's event stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventSagaCompleted, EventSagaFailed, EventSagaCompensationComplete:
		return true
	}
	return false
}

// Status is the projection status of a saga.
//
// State machine:
//
//	STARTED → IN_PROGRESS → ... → COMPLETED
//	                       ↘ COMPENSATING → COMPENSATION_COMPLETED
//	                       ↘ FAILED
type Status string

const (
	StatusStarted               Status = "STARTED"
	StatusInProgress            Status = "IN_PROGRESS"
	StatusCompensating          Status = "COMPENSATING"
	StatusCompleted             Status = "COMPLETED"
	StatusCompensationCompleted Status = "COMPENSATION_COMPLETED"
	StatusFailed                Status = "FAILED"
)

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensationCompleted:
		return true
	}
	return false
}

// Payload is the free-form key/value data attached to saga events and
// accumulated into the saga's data map step by step.
type Payload = map[string]any

// MergePayload returns a new map holding base overlaid with delta.
// Neither input is mutated; each step sees the union of all prior outputs.
func MergePayload(base, delta Payload) Payload {
	merged := make(Payload, len(base)+len(delta))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range delta {
		merged[k] = v
	}
	return merged
}
