package stepservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sagaflow.io/sagaflow/internal/saga"
)

// RegisterDemoHandlers installs simulated handlers for every step of the
// built-in AI saga catalog, so the full pipeline can be exercised
// without real model infrastructure. A command carrying "simulateFailure"
// set to the step's name fails that step, which is how the demo drives
// compensation end to end.
func RegisterDemoHandlers(s *Service) {
	s.Register("RUN_AI_MODEL", runAIModel)
	s.RegisterCompensation("RUN_AI_MODEL", discard("inference"))

	s.Register("LOAD_BATCH_DATA", loadBatchData)
	s.RegisterCompensation("LOAD_BATCH_DATA", discard("batch data"))

	s.Register("BATCH_INFERENCE", batchInference)
	s.RegisterCompensation("BATCH_INFERENCE", discard("batch inference"))

	s.Register("AGGREGATE_RESULTS", aggregateResults)
	s.RegisterCompensation("AGGREGATE_RESULTS", discard("aggregation"))

	s.Register("EXPORT_RESULTS", exportResults)
}

func failRequested(cmd saga.CommandEvent) error {
	if target, ok := cmd.Payload["simulateFailure"].(string); ok {
		if target == cmd.StepName {
			return fmt.Errorf("simulated failure at %s", cmd.StepName)
		}
	}
	return nil
}

func runAIModel(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
	if err := failRequested(cmd); err != nil {
		return nil, err
	}
	return saga.Payload{
		"inferenceId": uuid.NewString(),
		"modelOutput": "ok",
		"inferredAt":  time.Now().Format(time.RFC3339),
	}, nil
}

func loadBatchData(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
	if err := failRequested(cmd); err != nil {
		return nil, err
	}
	batchSize := 100
	if v, ok := cmd.Payload["batchSize"].(float64); ok {
		batchSize = int(v)
	}
	return saga.Payload{
		"batchId":     uuid.NewString(),
		"recordCount": batchSize,
	}, nil
}

func batchInference(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
	if err := failRequested(cmd); err != nil {
		return nil, err
	}
	return saga.Payload{
		"inferenceRunId": uuid.NewString(),
		"processed":      cmd.Payload["recordCount"],
	}, nil
}

func aggregateResults(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
	if err := failRequested(cmd); err != nil {
		return nil, err
	}
	return saga.Payload{
		"aggregateId": uuid.NewString(),
		"summary":     "aggregated",
	}, nil
}

func exportResults(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
	if err := failRequested(cmd); err != nil {
		return nil, err
	}
	return saga.Payload{
		"exportLocation": fmt.Sprintf("exports/%s.json", cmd.SagaID),
		"exportedAt":     time.Now().Format(time.RFC3339),
	}, nil
}

// discard is the shared shape of the demo compensations: acknowledge the
// rollback without carrying new data.
func discard(what string) Handler {
	return func(_ context.Context, cmd saga.CommandEvent) (saga.Payload, error) {
		if err := failRequested(cmd); err != nil {
			return nil, err
		}
		return saga.Payload{"compensated": what}, nil
	}
}
