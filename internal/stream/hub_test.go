package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sagaflow.io/sagaflow/internal/pkg/errors"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/store"
)

func seedSaga(t *testing.T, st store.Store, sagaID string, status saga.Status, eventTypes ...saga.EventType) {
	t.Helper()
	ctx := context.Background()
	state := store.NewState(sagaID, "T", 2, saga.Payload{"x": 1})
	require.NoError(t, st.CreateState(ctx, state))
	if status != saga.StatusStarted {
		update := store.StateUpdate{Status: &status}
		_, err := st.UpdateState(ctx, sagaID, update)
		require.NoError(t, err)
	}
	for i, eventType := range eventTypes {
		_, err := st.AppendEvent(ctx, &store.Event{
			EventID:   sagaID + "-evt-" + string(rune('a'+i)),
			SagaID:    sagaID,
			EventType: eventType,
			Payload:   saga.Payload{},
			Success:   true,
		})
		require.NoError(t, err)
	}
}

// drain collects everything currently queued on the subscription.
func drain(sub *Subscription) []Frame {
	var frames []Frame
	for {
		select {
		case frame := <-sub.Frames():
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func frameNames(frames []Frame) []string {
	names := make([]string, len(frames))
	for i, frame := range frames {
		names[i] = frame.Event
	}
	return names
}

func TestSubscribeUnknownSaga(t *testing.T) {
	hub := NewHub(store.NewMemory(), NewMemoryBroadcaster(), time.Minute)
	_, err := hub.Subscribe(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrSagaNotFound)
}

func TestSubscribeReplaysHistoryThenState(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	seedSaga(t, st, "s1", saga.StatusInProgress,
		saga.EventSagaStarted, saga.EventSagaStepStarted)

	sub, err := hub.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	t.Cleanup(func() { hub.Unsubscribe(sub) })

	frames := drain(sub)
	assert.Equal(t,
		[]string{FrameConnected, FrameHistory, FrameHistory, FrameState},
		frameNames(frames))

	// Replay events arrive in sequence order.
	first, ok := frames[1].Data.(*store.Event)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.SequenceNumber)
	assert.Equal(t, saga.EventSagaStarted, first.EventType)

	assert.Equal(t, 1, broadcaster.SubscriberCount("s1"), "first subscriber opens the channel")
	assert.Equal(t, 1, hub.SubscriberCount("s1"))

	select {
	case <-sub.Done():
		t.Fatal("active saga must keep the subscription open")
	default:
	}
}

func TestSubscribeTerminalSagaClosesAfterReplay(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	seedSaga(t, st, "s1", saga.StatusCompleted,
		saga.EventSagaStarted, saga.EventSagaCompleted)

	sub, err := hub.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	select {
	case <-sub.Done():
	default:
		t.Fatal("terminal saga subscription must close immediately after replay")
	}

	frames := drain(sub)
	assert.Equal(t,
		[]string{FrameConnected, FrameHistory, FrameHistory, FrameState},
		frameNames(frames), "replay still delivered before close")
	assert.Zero(t, broadcaster.SubscriberCount("s1"), "no channel opened for a finished saga")
}

func TestLiveEventFanOut(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	seedSaga(t, st, "s1", saga.StatusInProgress, saga.EventSagaStarted)

	ctx := context.Background()
	subA, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)
	subB, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)
	drain(subA)
	drain(subB)
	assert.Equal(t, 1, broadcaster.SubscriberCount("s1"), "one channel regardless of subscriber count")

	event := &store.Event{
		EventID:        "evt-live",
		SagaID:         "s1",
		SequenceNumber: 2,
		EventType:      saga.EventSagaStepCompleted,
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, broadcaster.Publish(ctx, "s1", data))

	for _, sub := range []*Subscription{subA, subB} {
		frames := drain(sub)
		require.Len(t, frames, 1)
		assert.Equal(t, FrameEvent, frames[0].Event)

		var got store.Event
		raw, err := json.Marshal(frames[0].Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "evt-live", got.EventID)
	}
}

func TestTerminalEventTearsDownSaga(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	seedSaga(t, st, "s1", saga.StatusInProgress, saga.EventSagaStarted)

	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)
	drain(sub)

	data, err := json.Marshal(&store.Event{
		EventID:   "evt-final",
		SagaID:    "s1",
		EventType: saga.EventSagaCompleted,
	})
	require.NoError(t, err)
	require.NoError(t, broadcaster.Publish(ctx, "s1", data))

	select {
	case <-sub.Done():
	default:
		t.Fatal("terminal event must close the subscription")
	}

	frames := drain(sub)
	require.Len(t, frames, 1, "final event still delivered before close")
	assert.Equal(t, FrameEvent, frames[0].Event)

	assert.Zero(t, hub.SubscriberCount("s1"))
	assert.Zero(t, broadcaster.SubscriberCount("s1"), "channel dropped on teardown")
}

func TestLastUnsubscribeDropsChannel(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	seedSaga(t, st, "s1", saga.StatusInProgress, saga.EventSagaStarted)

	ctx := context.Background()
	subA, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)
	subB, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)

	hub.Unsubscribe(subA)
	assert.Equal(t, 1, broadcaster.SubscriberCount("s1"), "channel survives while a subscriber remains")

	hub.Unsubscribe(subB)
	assert.Zero(t, broadcaster.SubscriberCount("s1"))
	assert.Zero(t, hub.SubscriberCount("s1"))

	// Resubscription after teardown works from scratch.
	subC, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, broadcaster.SubscriberCount("s1"))
	hub.Unsubscribe(subC)
}

func TestNotifierFeedsHub(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	notifier := NewEventNotifier(broadcaster)
	seedSaga(t, st, "s1", saga.StatusInProgress, saga.EventSagaStarted)

	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)
	drain(sub)

	stepIndex := 0
	notifier.Notify(ctx, &store.Event{
		EventID:        "evt-n",
		SagaID:         "s1",
		SequenceNumber: 2,
		EventType:      saga.EventSagaStepCompleted,
		StepName:       "S0",
		StepIndex:      &stepIndex,
		Success:        true,
	})

	frames := drain(sub)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameEvent, frames[0].Event)
	hub.Unsubscribe(sub)
}

// Notify runs on the caller's stack, so a burst of appends for one saga
// reaches subscribers in sequence order and the terminal event is always
// the last frame, never overtaking an earlier one.
func TestNotifierPreservesEventOrder(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	notifier := NewEventNotifier(broadcaster)
	seedSaga(t, st, "s1", saga.StatusInProgress, saga.EventSagaStarted)

	ctx := context.Background()
	sub, err := hub.Subscribe(ctx, "s1")
	require.NoError(t, err)
	drain(sub)

	burst := []saga.EventType{
		saga.EventSagaStepCompleted,
		saga.EventSagaStepStarted,
		saga.EventSagaStepCompleted,
		saga.EventSagaCompleted,
	}
	for i, eventType := range burst {
		notifier.Notify(ctx, &store.Event{
			EventID:        "evt-" + string(rune('a'+i)),
			SagaID:         "s1",
			SequenceNumber: int64(i + 2),
			EventType:      eventType,
			Success:        true,
		})
	}

	frames := drain(sub)
	require.Len(t, frames, len(burst), "no frame dropped by the terminal teardown")
	for i, frame := range frames {
		assert.Equal(t, FrameEvent, frame.Event)

		var got store.Event
		raw, err := json.Marshal(frame.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, int64(i+2), got.SequenceNumber)
		assert.Equal(t, burst[i], got.EventType)
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("terminal event must close the subscription")
	}
	assert.Zero(t, hub.SubscriberCount("s1"))
}

func TestHubClose(t *testing.T) {
	st := store.NewMemory()
	broadcaster := NewMemoryBroadcaster()
	hub := NewHub(st, broadcaster, time.Minute)
	seedSaga(t, st, "s1", saga.StatusInProgress, saga.EventSagaStarted)

	sub, err := hub.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	hub.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatal("hub close must close subscribers")
	}
	assert.Zero(t, broadcaster.SubscriberCount("s1"))
}
