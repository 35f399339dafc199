package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/config"
	"sagaflow.io/sagaflow/internal/pkg/logger"
)

// KafkaPublisher publishes through a single shared writer. The hash
// balancer routes equal keys to equal partitions, which is what gives
// sagas their per-id ordering.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates the shared writer.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			WriteTimeout:           cfg.WriteTimeout,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

var _ Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer consumes a set of topics within one consumer group, one
// reader per topic, each fetching and handling messages serially so
// per-partition order is preserved end to end.
type KafkaConsumer struct {
	readers []*kafka.Reader
	handler Handler
}

// NewKafkaConsumer builds readers for each topic in the group.
func NewKafkaConsumer(cfg config.KafkaConfig, groupID string, topics []string, handler Handler) *KafkaConsumer {
	readers := make([]*kafka.Reader, 0, len(topics))
	for _, topic := range topics {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
			MaxWait:  time.Second,
		}))
	}
	return &KafkaConsumer{readers: readers, handler: handler}
}

var _ Consumer = (*KafkaConsumer)(nil)

// Run consumes every topic until ctx is cancelled. Each topic's loop is
// strictly serial: fetch, handle, commit. A handler error leaves the
// offset uncommitted for redelivery.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	errCh := make(chan error, len(c.readers))
	for _, reader := range c.readers {
		go c.consume(ctx, reader, errCh) //nolint:naked-goroutine // per-topic consume loops live exactly as long as Run
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (c *KafkaConsumer) consume(ctx context.Context, reader *kafka.Reader, errCh chan<- error) {
	topic := reader.Config().Topic
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			errCh <- fmt.Errorf("fetch from %s: %w", topic, err)
			return
		}

		handleErr := c.handler(ctx, Message{
			Topic: msg.Topic,
			Key:   string(msg.Key),
			Value: msg.Value,
		})
		if handleErr != nil {
			// Leave the offset uncommitted; the broker redelivers and the
			// store-level dedup makes the retry safe.
			logger.Warn("Message handling failed, offset not committed",
				zap.String("topic", topic),
				zap.String("key", string(msg.Key)),
				zap.Error(handleErr),
			)
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			errCh <- fmt.Errorf("commit on %s: %w", topic, err)
			return
		}
	}
}

func (c *KafkaConsumer) Close() error {
	var firstErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
