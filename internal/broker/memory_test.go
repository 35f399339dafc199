package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDispatchesInOrder(t *testing.T) {
	bus := NewMemoryBus()

	var seen []string
	bus.Subscribe("commands", func(_ context.Context, msg Message) error {
		seen = append(seen, string(msg.Value))
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "commands", "saga-1", []byte("a")))
	require.NoError(t, bus.Publish(context.Background(), "commands", "saga-1", []byte("b")))
	require.NoError(t, bus.Publish(context.Background(), "other", "saga-1", []byte("c")))

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Len(t, bus.Published(), 3)
	assert.Len(t, bus.PublishedTo("commands"), 2)

	msgs := bus.PublishedTo("other")
	require.Len(t, msgs, 1)
	assert.Equal(t, "saga-1", msgs[0].Key)
}

func TestMemoryBusPropagatesHandlerError(t *testing.T) {
	bus := NewMemoryBus()
	handlerErr := errors.New("boom")
	bus.Subscribe("commands", func(_ context.Context, _ Message) error {
		return handlerErr
	})

	err := bus.Publish(context.Background(), "commands", "saga-1", []byte("a"))
	assert.ErrorIs(t, err, handlerErr)
	// The message is still recorded even when a handler rejects it.
	assert.Len(t, bus.Published(), 1)
}

func TestMemoryBusReset(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Publish(context.Background(), "commands", "k", []byte("a")))
	bus.Reset()
	assert.Empty(t, bus.Published())
}
