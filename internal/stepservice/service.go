// Package stepservice is the worker-side runtime of the saga protocol: a
// generic consumer that executes registered step handlers for incoming
// commands and answers on the command's response topic.
package stepservice

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/broker"
	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/pkg/worker"
	"sagaflow.io/sagaflow/internal/saga"
)

// Handler executes one step. The returned payload is the step's output
// delta, merged into the saga's accumulated data by the orchestrator. A
// returned error fails the step and triggers compensation.
type Handler func(ctx context.Context, cmd saga.CommandEvent) (saga.Payload, error)

// Service executes step commands. Handlers are registered per step name;
// a compensation handler is registered under the suffixed name the
// orchestrator puts on the wire (for example "LOAD_BATCH_DATA_COMPENSATION").
type Service struct {
	name      string
	publisher broker.Publisher
	pools     *worker.Pools

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New builds a step service. pools may be nil, which runs handlers
// inline on the consumer goroutine (used in tests).
func New(name string, publisher broker.Publisher, pools *worker.Pools) *Service {
	return &Service{
		name:      name,
		publisher: publisher,
		pools:     pools,
		handlers:  make(map[string]Handler),
	}
}

// Register binds a handler to a step name.
func (s *Service) Register(stepName string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[stepName] = handler
}

// RegisterCompensation binds a handler to a step's compensation command.
func (s *Service) RegisterCompensation(stepName string, handler Handler) {
	s.Register(stepName+saga.CompensationSuffix, handler)
}

// StepNames returns the registered step names, for logging at startup.
func (s *Service) StepNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

// Handle implements broker.Handler. Undecodable commands are dropped; a
// command without a registered handler is answered with a failure
// response so the orchestrator can compensate instead of waiting
// forever. Publish failures are returned so the message is redelivered.
func (s *Service) Handle(ctx context.Context, msg broker.Message) error {
	cmd, err := saga.DecodeCommand(msg.Value)
	if err != nil {
		logger.Warn("undecodable command dropped",
			zap.String("service", s.name),
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return nil
	}

	s.mu.RLock()
	handler, ok := s.handlers[cmd.StepName]
	s.mu.RUnlock()

	if !ok {
		logger.Error("no handler for step",
			zap.String("service", s.name),
			zap.String("step", cmd.StepName),
			zap.String("saga_id", cmd.SagaID))
		return s.respond(ctx, cmd,
			cmd.FailureResponse(fmt.Sprintf("service %s has no handler for step %s", s.name, cmd.StepName)))
	}

	logger.Info("step command received",
		zap.String("service", s.name),
		zap.String("saga_id", cmd.SagaID),
		zap.String("step", cmd.StepName),
		zap.Bool("compensation", cmd.IsCompensation()))

	output, err := s.execute(ctx, handler, cmd)
	if err != nil {
		logger.Warn("step handler failed",
			zap.String("service", s.name),
			zap.String("saga_id", cmd.SagaID),
			zap.String("step", cmd.StepName),
			zap.Error(err))
		return s.respond(ctx, cmd, cmd.FailureResponse(err.Error()))
	}
	return s.respond(ctx, cmd, cmd.SuccessResponse(output))
}

// execute runs the handler on the general pool, keeping the consumer
// goroutine parked until the step finishes so the offset commit still
// tracks completion.
func (s *Service) execute(ctx context.Context, handler Handler, cmd saga.CommandEvent) (saga.Payload, error) {
	if s.pools == nil {
		return handler(ctx, cmd)
	}

	var (
		output saga.Payload
		err    error
	)
	done := make(chan struct{})
	if submitErr := s.pools.General.Submit(ctx, func(taskCtx context.Context) {
		defer close(done)
		output, err = handler(taskCtx, cmd)
	}); submitErr != nil {
		return nil, submitErr
	}
	select {
	case <-done:
		return output, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) respond(ctx context.Context, cmd saga.CommandEvent, resp saga.ResponseEvent) error {
	data, err := resp.Encode()
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, cmd.ResponseTopic, cmd.SagaID, data)
}
