// Package broker abstracts the command/response transport.
//
// Contract: every message is keyed by saga id so the broker preserves
// per-saga order and exactly one consumer in a group processes a saga's
// messages at a time. The orchestrator's safety depends on this partition
// affinity; any new transport must preserve it.
package broker

import "context"

// Message is one keyed broker record.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Publisher publishes keyed messages. Implementations must hash the key
// to a partition so equal keys stay ordered.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

// Handler processes one consumed message. Returning an error leaves the
// message uncommitted so it is redelivered; handlers must therefore be
// idempotent.
type Handler func(ctx context.Context, msg Message) error

// Consumer runs a serial consume loop over one or more topics within a
// consumer group.
type Consumer interface {
	// Run blocks until ctx is cancelled or a fatal transport error occurs.
	Run(ctx context.Context) error
	Close() error
}
