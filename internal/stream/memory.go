package stream

import (
	"context"
	"sync"
)

// MemoryBroadcaster is the single-process Broadcaster used when Redis is
// not configured, and in tests. Delivery is synchronous in publish order.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(data []byte)
}

var _ Broadcaster = (*MemoryBroadcaster)(nil)

// NewMemoryBroadcaster returns an empty in-process broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[string]map[uint64]func(data []byte))}
}

func (b *MemoryBroadcaster) Publish(_ context.Context, sagaID string, data []byte) error {
	b.mu.Lock()
	delivers := make([]func([]byte), 0, len(b.subs[sagaID]))
	for _, deliver := range b.subs[sagaID] {
		delivers = append(delivers, deliver)
	}
	b.mu.Unlock()

	for _, deliver := range delivers {
		deliver(data)
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(_ context.Context, sagaID string, deliver func(data []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[sagaID] == nil {
		b.subs[sagaID] = make(map[uint64]func(data []byte))
	}
	b.subs[sagaID][id] = deliver

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[sagaID], id)
		if len(b.subs[sagaID]) == 0 {
			delete(b.subs, sagaID)
		}
	}, nil
}

// SubscriberCount reports the live subscriptions for a saga, for tests.
func (b *MemoryBroadcaster) SubscriberCount(sagaID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sagaID])
}

func (b *MemoryBroadcaster) Close() error { return nil }
