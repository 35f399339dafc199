package stream

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/pkg/worker"
)

// RedisBroadcaster carries saga events over Redis pub/sub, one channel
// per saga id, so hubs in other processes see the same stream.
type RedisBroadcaster struct {
	client *redis.Client
	pools  *worker.Pools
}

var _ Broadcaster = (*RedisBroadcaster)(nil)

// NewRedisBroadcaster wires a broadcaster over an existing client. The
// stream pool runs the subscription receive loops.
func NewRedisBroadcaster(client *redis.Client, pools *worker.Pools) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, pools: pools}
}

// Publish sends data on the saga's channel. Nothing listens until a hub
// subscribes, which is fine: replay covers late subscribers.
func (b *RedisBroadcaster) Publish(ctx context.Context, sagaID string, data []byte) error {
	return b.client.Publish(ctx, Channel(sagaID), data).Err()
}

// Subscribe opens a dedicated pub/sub connection for the saga's channel
// and pumps messages to deliver from the stream pool until unsubscribed.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, sagaID string, deliver func(data []byte)) (func(), error) {
	sub := b.client.Subscribe(ctx, Channel(sagaID))

	// Force the SUBSCRIBE round trip so a broken connection surfaces here
	// instead of as a silent dead stream.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	ch := sub.Channel()
	err := b.pools.SubmitDetached("stream", func(taskCtx context.Context) {
		for {
			select {
			case <-taskCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver([]byte(msg.Payload))
			}
		}
	})
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	logger.Debug("subscribed to saga channel", zap.String("saga_id", sagaID))
	return func() {
		if err := sub.Close(); err != nil {
			logger.Warn("pubsub close failed",
				zap.String("saga_id", sagaID), zap.Error(err))
		}
	}, nil
}

func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}
