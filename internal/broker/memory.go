package broker

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Publisher used in tests and demos. Messages
// are dispatched synchronously to topic subscribers in publish order,
// which models the broker's per-key ordering exactly: one message is
// fully handled before the next is delivered.
type MemoryBus struct {
	mu        sync.Mutex
	handlers  map[string][]Handler
	published []Message
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

var _ Publisher = (*MemoryBus)(nil)

// Subscribe registers a handler for a topic.
func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish records the message and dispatches it synchronously.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, value []byte) error {
	msg := Message{Topic: topic, Key: key, Value: value}

	b.mu.Lock()
	b.published = append(b.published, msg)
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Published returns a snapshot of everything published so far.
func (b *MemoryBus) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.published...)
}

// PublishedTo returns the messages published to one topic.
func (b *MemoryBus) PublishedTo(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var msgs []Message
	for _, msg := range b.published {
		if msg.Topic == topic {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// Reset clears the published log, keeping subscriptions.
func (b *MemoryBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

func (b *MemoryBus) Close() error { return nil }
