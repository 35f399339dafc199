package stream

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/store"
)

// EventNotifier forwards every appended saga event to the broadcaster.
// It satisfies the orchestrator's notifier contract. Publishing happens
// synchronously on the caller's stack: the response consumer handles one
// message at a time per saga, so this is what keeps the channel's frame
// order equal to the store's sequence order. Handing publishes to a pool
// would let a terminal frame overtake an earlier one and tear the
// subscribers down before it arrives. A failed publish is only logged;
// live streaming is best effort, replay from the store is the reliable
// channel.
type EventNotifier struct {
	broadcaster Broadcaster
}

// NewEventNotifier wires a notifier.
func NewEventNotifier(broadcaster Broadcaster) *EventNotifier {
	return &EventNotifier{broadcaster: broadcaster}
}

// Notify publishes the event on the saga's channel.
func (n *EventNotifier) Notify(ctx context.Context, event *store.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("event marshal failed",
			zap.String("saga_id", event.SagaID),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return
	}

	if err := n.broadcaster.Publish(ctx, event.SagaID, data); err != nil {
		logger.Warn("event publish failed",
			zap.String("saga_id", event.SagaID), zap.Error(err))
	}
}
