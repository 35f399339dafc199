package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/broker"
	apperrors "sagaflow.io/sagaflow/internal/pkg/errors"
	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/saga"
)

// ResponseListener is the broker handler for the shared response topic.
// It decodes each message and hands it to the orchestrator. Permanent
// failures (undecodable payloads, responses for sagas that do not exist)
// are logged and dropped so a poison message cannot block the partition;
// everything else is returned as an error so the offset stays uncommitted
// and the message is redelivered.
type ResponseListener struct {
	orchestrator *Orchestrator
}

// NewResponseListener wires a listener over the orchestrator.
func NewResponseListener(o *Orchestrator) *ResponseListener {
	return &ResponseListener{orchestrator: o}
}

// Handle implements broker.Handler.
func (l *ResponseListener) Handle(ctx context.Context, msg broker.Message) error {
	resp, err := saga.DecodeResponse(msg.Value)
	if err != nil {
		logger.Warn("undecodable response dropped",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Error(err))
		return nil
	}

	logger.Debug("response received",
		zap.String("saga_id", resp.SagaID),
		zap.String("step", resp.StepName),
		zap.Bool("success", resp.Success))

	if err := l.orchestrator.HandleResponse(ctx, resp); err != nil {
		if errors.Is(err, apperrors.ErrSagaNotFound) || errors.Is(err, apperrors.ErrUnknownSagaType) {
			logger.Error("unroutable response dropped",
				zap.String("saga_id", resp.SagaID),
				zap.String("step", resp.StepName),
				zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}
