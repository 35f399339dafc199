// Package store persists saga state projections and the append-only
// event log. The log is the source of truth; SagaState is a convenience
// projection derivable from it.
package store

import (
	"context"
	"time"

	"sagaflow.io/sagaflow/internal/saga"
)

// SagaState is the current projection of one saga.
type SagaState struct {
	SagaID           string       `json:"sagaId"`
	SagaType         string       `json:"sagaType"`
	Status           saga.Status  `json:"status"`
	CurrentStepIndex int          `json:"currentStepIndex"`
	TotalSteps       int          `json:"totalSteps"`
	SagaData         saga.Payload `json:"sagaData"`

	// Version increments on every state update. Updates carrying a stale
	// expected version fail with ErrVersionConflict so a reordered or
	// redelivered response cannot corrupt progress.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal reports whether the saga reached a terminal status.
func (s *SagaState) Terminal() bool {
	return s.Status.Terminal()
}

// Event is one immutable row of a saga's event log. SequenceNumber is
// assigned by the store, strictly increasing and gapless per saga,
// starting at 1.
type Event struct {
	EventID        string         `json:"eventId"`
	SagaID         string         `json:"sagaId"`
	SequenceNumber int64          `json:"sequenceNumber"`
	EventType      saga.EventType `json:"eventType"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        saga.Payload   `json:"payload"`
	StepName       string         `json:"stepName,omitempty"`
	StepIndex      *int           `json:"stepIndex,omitempty"`
	Success        bool           `json:"success"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
}

// EventSourcing is the combined read model: current state plus the full
// ordered event history.
type EventSourcing struct {
	SagaID           string       `json:"sagaId"`
	SagaType         string       `json:"sagaType"`
	Status           saga.Status  `json:"status"`
	CurrentStepIndex int          `json:"currentStepIndex"`
	TotalSteps       int          `json:"totalSteps"`
	Events           []*Event     `json:"events"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// StateUpdate is a partial update of the state projection. Nil fields are
// left unchanged. ExpectedVersion, when set, makes the update
// conditional.
type StateUpdate struct {
	Status           *saga.Status
	CurrentStepIndex *int
	SagaData         saga.Payload
	ExpectedVersion  *int64
}

// Store is the event store contract.
//
// AppendEvent assigns the saga's next sequence number atomically. The
// single-writer-per-saga-id invariant is provided by the broker's
// partition affinity; the store still refuses to overwrite an existing
// (sagaId, sequenceNumber) pair and rejects duplicate event ids with
// ErrDuplicateEvent.
type Store interface {
	CreateState(ctx context.Context, state *SagaState) error
	GetState(ctx context.Context, sagaID string) (*SagaState, error)
	UpdateState(ctx context.Context, sagaID string, update StateUpdate) (*SagaState, error)
	ListActive(ctx context.Context) ([]*SagaState, error)

	AppendEvent(ctx context.Context, event *Event) (*Event, error)
	GetEvents(ctx context.Context, sagaID string) ([]*Event, error)
	HasEvent(ctx context.Context, eventID string) (bool, error)

	GetEventSourcing(ctx context.Context, sagaID string) (*EventSourcing, error)

	Close() error
}

// NewState builds the initial STARTED projection for a freshly started
// saga.
func NewState(sagaID, sagaType string, totalSteps int, initialData saga.Payload) *SagaState {
	now := time.Now()
	if initialData == nil {
		initialData = saga.Payload{}
	}
	return &SagaState{
		SagaID:           sagaID,
		SagaType:         sagaType,
		Status:           saga.StatusStarted,
		CurrentStepIndex: 0,
		TotalSteps:       totalSteps,
		SagaData:         initialData,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// EventFromResponse converts a wire response into a log row.
func EventFromResponse(resp saga.ResponseEvent) *Event {
	stepIndex := resp.StepIndex
	return &Event{
		EventID:      resp.EventID,
		SagaID:       resp.SagaID,
		EventType:    resp.EventType,
		Timestamp:    resp.Timestamp,
		Payload:      resp.Payload,
		StepName:     resp.StepName,
		StepIndex:    &stepIndex,
		Success:      resp.Success,
		ErrorMessage: resp.ErrorMessage,
	}
}

// EventFromCommand converts a wire command into a log row.
func EventFromCommand(cmd saga.CommandEvent) *Event {
	stepIndex := cmd.StepIndex
	return &Event{
		EventID:   cmd.EventID,
		SagaID:    cmd.SagaID,
		EventType: cmd.EventType,
		Timestamp: cmd.Timestamp,
		Payload:   cmd.Payload,
		StepName:  cmd.StepName,
		StepIndex: &stepIndex,
		Success:   true,
	}
}
