package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "sagaflow.io/sagaflow/internal/pkg/errors"
)

// Memory is an in-process Store used by tests and by single-node setups
// without Postgres. All methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	states   map[string]*SagaState
	events   map[string][]*Event // sagaID → ordered log
	eventIDs map[string]struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		states:   make(map[string]*SagaState),
		events:   make(map[string][]*Event),
		eventIDs: make(map[string]struct{}),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateState(_ context.Context, state *SagaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.states[state.SagaID]; exists {
		return apperrors.Wrap(apperrors.ErrDuplicateSaga, apperrors.CodeSagaDuplicate,
			"saga id already exists", 409)
	}
	m.states[state.SagaID] = cloneState(state)
	return nil
}

func (m *Memory) GetState(_ context.Context, sagaID string) (*SagaState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[sagaID]
	if !ok {
		return nil, apperrors.SagaNotFound(sagaID)
	}
	return cloneState(state), nil
}

func (m *Memory) UpdateState(_ context.Context, sagaID string, update StateUpdate) (*SagaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[sagaID]
	if !ok {
		return nil, apperrors.SagaNotFound(sagaID)
	}
	if update.ExpectedVersion != nil && state.Version != *update.ExpectedVersion {
		return nil, apperrors.Wrap(apperrors.ErrVersionConflict, apperrors.CodeVersionConflict,
			"stale saga state version", 409)
	}
	if update.Status != nil {
		state.Status = *update.Status
	}
	if update.CurrentStepIndex != nil {
		state.CurrentStepIndex = *update.CurrentStepIndex
	}
	if update.SagaData != nil {
		state.SagaData = update.SagaData
	}
	state.Version++
	state.UpdatedAt = time.Now()
	return cloneState(state), nil
}

func (m *Memory) ListActive(_ context.Context) ([]*SagaState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var active []*SagaState
	for _, state := range m.states {
		if !state.Terminal() {
			active = append(active, cloneState(state))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (m *Memory) AppendEvent(_ context.Context, event *Event) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if _, dup := m.eventIDs[event.EventID]; dup {
		return nil, apperrors.Wrap(apperrors.ErrDuplicateEvent, apperrors.CodeEventDuplicate,
			"event id already appended", 409)
	}

	stored := cloneEvent(event)
	stored.SequenceNumber = int64(len(m.events[event.SagaID])) + 1
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}

	m.events[event.SagaID] = append(m.events[event.SagaID], stored)
	m.eventIDs[event.EventID] = struct{}{}
	return cloneEvent(stored), nil
}

func (m *Memory) GetEvents(_ context.Context, sagaID string) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.events[sagaID]
	events := make([]*Event, len(log))
	for i, ev := range log {
		events[i] = cloneEvent(ev)
	}
	return events, nil
}

func (m *Memory) HasEvent(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.eventIDs[eventID]
	return ok, nil
}

func (m *Memory) GetEventSourcing(ctx context.Context, sagaID string) (*EventSourcing, error) {
	state, err := m.GetState(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	events, err := m.GetEvents(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return &EventSourcing{
		SagaID:           state.SagaID,
		SagaType:         state.SagaType,
		Status:           state.Status,
		CurrentStepIndex: state.CurrentStepIndex,
		TotalSteps:       state.TotalSteps,
		Events:           events,
		CreatedAt:        state.CreatedAt,
		UpdatedAt:        state.UpdatedAt,
	}, nil
}

func (m *Memory) Close() error { return nil }

func cloneState(s *SagaState) *SagaState {
	c := *s
	c.SagaData = make(map[string]any, len(s.SagaData))
	for k, v := range s.SagaData {
		c.SagaData[k] = v
	}
	return &c
}

func cloneEvent(e *Event) *Event {
	c := *e
	if e.StepIndex != nil {
		idx := *e.StepIndex
		c.StepIndex = &idx
	}
	if e.Payload != nil {
		c.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}
