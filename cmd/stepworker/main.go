// Package main runs the demo step worker: it consumes saga command topics,
// executes the built-in AI pipeline handlers and publishes responses back
// to the orchestrator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/broker"
	"sagaflow.io/sagaflow/internal/config"
	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/pkg/worker"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/stepservice"
)

const consumerGroup = "saga-step-worker-group"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		StreamPoolSize:  cfg.Worker.StreamPoolSize,
	})
	if err != nil {
		return fmt.Errorf("init worker pools: %w", err)
	}
	defer pools.Shutdown()

	defs, err := saga.BuiltinDefinitions(cfg.Saga.ResponseTopic)
	if err != nil {
		return fmt.Errorf("build saga catalog: %w", err)
	}
	topics := saga.CommandTopics(defs)

	publisher := broker.NewKafkaPublisher(cfg.Kafka)
	defer publisher.Close()

	service := stepservice.New("demo-step-worker", publisher, pools)
	stepservice.RegisterDemoHandlers(service)

	consumer := broker.NewKafkaConsumer(cfg.Kafka, consumerGroup, topics, service.Handle)
	defer consumer.Close()

	logger.Info("Step worker started",
		zap.Strings("topics", topics),
		zap.String("group", consumerGroup),
		zap.Strings("steps", service.StepNames()),
	)

	errCh := make(chan error, 1)
	go func() { //nolint:naked-goroutine // main consumer goroutine is exempt
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("consumer error: %w", err)
		}
	}

	logger.Info("Step worker stopped")
	return nil
}
