package stream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/store"
)

// SSE event names on the wire.
const (
	FrameConnected = "connected"
	FrameHistory   = "saga-event-history"
	FrameState     = "saga-state"
	FrameEvent     = "saga-event"
)

// Frame is one server-sent event: a name plus a JSON-serializable body.
type Frame struct {
	Event string
	Data  any
}

// Subscription is one live subscriber connection. The owner drains
// Frames until Done closes or it decides to hang up, then calls
// Hub.Unsubscribe.
type Subscription struct {
	id     uint64
	sagaID string
	frames chan Frame
	done   chan struct{}
	once   sync.Once
}

// Frames is the ordered stream of frames for this subscriber.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// Done closes when the hub shuts the subscription down (terminal event,
// eviction, or hub close).
func (s *Subscription) Done() <-chan struct{} { return s.done }

// SagaID returns the saga this subscription watches.
func (s *Subscription) SagaID() string { return s.sagaID }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// trySend queues a frame without blocking. false means the subscriber's
// buffer is full and it should be dropped.
func (s *Subscription) trySend(frame Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// sagaEntry is the live subscriber set of one saga. Created on the first
// subscriber, torn down on the last unsubscribe or a terminal event.
type sagaEntry struct {
	mu          sync.Mutex
	subs        map[uint64]*Subscription
	unsubscribe func()
	closed      bool
}

// Hub fans saga events out to SSE subscribers. New subscribers get a
// replay of the full history plus the current state before live events;
// a subscriber to an already-terminal saga gets the replay and an
// immediate close.
type Hub struct {
	store       store.Store
	broadcaster Broadcaster
	idleTimeout time.Duration

	entries *xsync.MapOf[string, *sagaEntry]
	nextID  atomic.Uint64
}

// NewHub wires a hub. idleTimeout bounds how long an idle connection may
// live; the HTTP layer enforces it via IdleTimeout.
func NewHub(st store.Store, broadcaster Broadcaster, idleTimeout time.Duration) *Hub {
	return &Hub{
		store:       st,
		broadcaster: broadcaster,
		idleTimeout: idleTimeout,
		entries:     xsync.NewMapOf[string, *sagaEntry](),
	}
}

// IdleTimeout is the maximum lifetime of an idle subscriber connection.
func (h *Hub) IdleTimeout() time.Duration { return h.idleTimeout }

// subscriberBuffer bounds the per-subscriber frame queue; a consumer
// that falls this far behind is dropped.
const subscriberBuffer = 256

// Subscribe registers a new subscriber for sagaID. It fails with the
// store's not-found error when the saga has no state. The returned
// subscription already has the connected ack, the history replay, and
// the state snapshot queued.
func (h *Hub) Subscribe(ctx context.Context, sagaID string) (*Subscription, error) {
	view, err := h.store.GetEventSourcing(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:     h.nextID.Add(1),
		sagaID: sagaID,
		frames: make(chan Frame, subscriberBuffer),
		done:   make(chan struct{}),
	}

	// A finished saga never produces another event: replay and close
	// without touching the broadcaster.
	if !view.Status.Terminal() {
		if err := h.register(ctx, sagaID, sub); err != nil {
			return nil, err
		}
	}

	h.replay(sub, view)

	if view.Status.Terminal() {
		sub.close()
	}

	logger.Debug("stream subscriber attached",
		zap.String("saga_id", sagaID),
		zap.String("status", string(view.Status)))
	return sub, nil
}

func (h *Hub) replay(sub *Subscription, view *store.EventSourcing) {
	sub.trySend(Frame{Event: FrameConnected, Data: map[string]any{
		"sagaId":  view.SagaID,
		"message": "Connected to saga event stream",
	}})
	for _, event := range view.Events {
		sub.trySend(Frame{Event: FrameHistory, Data: event})
	}
	sub.trySend(Frame{Event: FrameState, Data: map[string]any{
		"sagaId":           view.SagaID,
		"sagaType":         view.SagaType,
		"status":           view.Status,
		"currentStepIndex": view.CurrentStepIndex,
		"totalSteps":       view.TotalSteps,
		"createdAt":        view.CreatedAt,
		"updatedAt":        view.UpdatedAt,
	}})
}

// register adds sub to the saga's entry, creating the entry and the
// broadcaster subscription when sub is the first subscriber.
func (h *Hub) register(ctx context.Context, sagaID string, sub *Subscription) error {
	for {
		entry, _ := h.entries.LoadOrCompute(sagaID, func() *sagaEntry {
			return &sagaEntry{subs: make(map[uint64]*Subscription)}
		})

		entry.mu.Lock()
		if entry.closed {
			// Lost a race with teardown; the map slot is gone, take a
			// fresh one.
			entry.mu.Unlock()
			continue
		}
		if entry.unsubscribe == nil {
			unsubscribe, err := h.broadcaster.Subscribe(ctx, sagaID, func(data []byte) {
				h.fanOut(sagaID, data)
			})
			if err != nil {
				entry.closed = true
				entry.mu.Unlock()
				h.entries.Delete(sagaID)
				return err
			}
			entry.unsubscribe = unsubscribe
		}
		entry.subs[sub.id] = sub
		entry.mu.Unlock()
		return nil
	}
}

// Unsubscribe detaches one subscriber. The last subscriber of a saga
// tears the whole entry down, dropping the broadcaster subscription.
func (h *Hub) Unsubscribe(sub *Subscription) {
	sub.close()

	entry, ok := h.entries.Load(sub.sagaID)
	if !ok {
		return
	}

	entry.mu.Lock()
	delete(entry.subs, sub.id)
	empty := len(entry.subs) == 0 && !entry.closed
	var unsubscribe func()
	if empty {
		entry.closed = true
		unsubscribe = entry.unsubscribe
	}
	entry.mu.Unlock()

	if empty {
		h.entries.Delete(sub.sagaID)
		if unsubscribe != nil {
			unsubscribe()
		}
		logger.Debug("last stream subscriber left", zap.String("saga_id", sub.sagaID))
	}
}

// fanOut delivers one published event to every live subscriber of the
// saga, evicting any subscriber whose queue is full. A terminal event
// closes every subscriber and tears the entry down.
func (h *Hub) fanOut(sagaID string, data []byte) {
	entry, ok := h.entries.Load(sagaID)
	if !ok {
		return
	}

	entry.mu.Lock()
	subs := make([]*Subscription, 0, len(entry.subs))
	for _, sub := range entry.subs {
		subs = append(subs, sub)
	}
	entry.mu.Unlock()

	frame := Frame{Event: FrameEvent, Data: json.RawMessage(data)}
	var dead []*Subscription
	for _, sub := range subs {
		if !sub.trySend(frame) {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		logger.Warn("slow stream subscriber dropped", zap.String("saga_id", sagaID))
		h.Unsubscribe(sub)
	}

	if terminalEvent(data) {
		h.teardown(sagaID)
	}
}

// teardown closes every subscriber of the saga and removes its entry.
func (h *Hub) teardown(sagaID string) {
	entry, ok := h.entries.Load(sagaID)
	if !ok {
		return
	}

	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		return
	}
	entry.closed = true
	subs := make([]*Subscription, 0, len(entry.subs))
	for _, sub := range entry.subs {
		subs = append(subs, sub)
	}
	entry.subs = map[uint64]*Subscription{}
	unsubscribe := entry.unsubscribe
	entry.mu.Unlock()

	h.entries.Delete(sagaID)
	for _, sub := range subs {
		sub.close()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	logger.Info("saga stream closed", zap.String("saga_id", sagaID))
}

// Close tears down every saga entry, closing all subscribers.
func (h *Hub) Close() {
	var sagaIDs []string
	h.entries.Range(func(sagaID string, _ *sagaEntry) bool {
		sagaIDs = append(sagaIDs, sagaID)
		return true
	})
	for _, sagaID := range sagaIDs {
		h.teardown(sagaID)
	}
}

// SubscriberCount reports the live subscribers for a saga.
func (h *Hub) SubscriberCount(sagaID string) int {
	entry, ok := h.entries.Load(sagaID)
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.subs)
}

// terminalEvent sniffs the eventType out of a published event without
// failing on foreign payloads.
func terminalEvent(data []byte) bool {
	var probe struct {
		EventType saga.EventType `json:"eventType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.EventType.Terminal()
}
