// Package stream is the live event facade: the orchestrator publishes
// every appended event on a per-saga pub/sub channel, and hubs relay
// those events, plus a replay of everything already decided, to
// long-lived SSE subscribers.
package stream

import "context"

// channelPrefix namespaces the per-saga pub/sub channels.
const channelPrefix = "saga:events:"

// Channel returns the pub/sub channel name for one saga.
func Channel(sagaID string) string {
	return channelPrefix + sagaID
}

// Broadcaster moves serialized saga events between the orchestrator and
// hubs, possibly across processes.
type Broadcaster interface {
	// Publish sends data on the saga's channel.
	Publish(ctx context.Context, sagaID string, data []byte) error

	// Subscribe registers deliver for the saga's channel and returns an
	// unsubscribe function. deliver runs on the broadcaster's goroutine
	// and must not block for long.
	Subscribe(ctx context.Context, sagaID string, deliver func(data []byte)) (func(), error)

	Close() error
}
