package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/pkg/logger"
)

// Start starts the background services: the river sweep client and the
// Kafka response consumer. The consumer loop runs until ctx is cancelled;
// a consumer failure is pushed to the returned channel.
func (a *Application) Start(ctx context.Context) (<-chan error, error) {
	if a.River != nil {
		if err := a.River.Start(ctx); err != nil {
			return nil, fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, stalled saga sweep active")
	}

	errCh := make(chan error, 1)
	if err := a.Pools.SubmitDetached("general", func(taskCtx context.Context) {
		if err := a.Consumer.Run(taskCtx); err != nil && taskCtx.Err() == nil {
			errCh <- fmt.Errorf("response consumer: %w", err)
		}
		close(errCh)
	}); err != nil {
		return nil, fmt.Errorf("submit consumer loop: %w", err)
	}
	logger.Info("Saga response consumer started",
		zap.String("topic", a.Config.Saga.ResponseTopic),
		zap.String("group", a.Config.Saga.ConsumerGroup),
	)
	return errCh, nil
}

// Shutdown gracefully stops all components in reverse dependency order.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if err := a.Consumer.Close(); err != nil {
		logger.Warn("consumer close returned error", zap.Error(err))
	}

	if a.River != nil {
		if err := a.River.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
	}

	// Closing the hub first detaches every SSE subscriber before the
	// broadcaster connection goes away.
	a.Hub.Close()
	if err := a.Broadcaster.Close(); err != nil {
		logger.Warn("broadcaster close returned error", zap.Error(err))
	}

	if err := a.Publisher.Close(); err != nil {
		logger.Warn("publisher close returned error", zap.Error(err))
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	closeStore(a.Store)

	logger.Info("Application shut down")
}
