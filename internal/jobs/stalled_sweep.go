// Package jobs defines River Queue job types for background maintenance.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/store"
)

// DefaultStepTimeout is the advisory deadline assumed for steps that
// carry no timeout of their own.
const DefaultStepTimeout = 30 * time.Second

// StalledSagaSweepArgs is a periodic job that reports sagas stuck on one
// step past the step's advisory timeout. The sweep only observes: it
// never fails, retries, or advances a saga, since a slow step service
// may still answer and the response path handles whatever arrives.
type StalledSagaSweepArgs struct{}

// Kind returns the job kind identifier for the stalled-saga sweep.
func (StalledSagaSweepArgs) Kind() string { return "stalled_saga_sweep" }

// InsertOpts ensures at most one sweep is enqueued per period.
func (StalledSagaSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// StalledSagaSweepWorker scans active sagas and logs the ones whose
// current step has been waiting longer than its advisory timeout.
type StalledSagaSweepWorker struct {
	river.WorkerDefaults[StalledSagaSweepArgs]
	store    store.Store
	registry *saga.Registry

	// now is swappable for tests.
	now func() time.Time
}

// NewStalledSagaSweepWorker creates a sweep worker.
func NewStalledSagaSweepWorker(st store.Store, registry *saga.Registry) *StalledSagaSweepWorker {
	return &StalledSagaSweepWorker{
		store:    st,
		registry: registry,
		now:      time.Now,
	}
}

// Work logs every stalled saga. Errors are returned only for store
// failures; an unknown saga type in the projection is logged and skipped.
func (w *StalledSagaSweepWorker) Work(ctx context.Context, _ *river.Job[StalledSagaSweepArgs]) error {
	if w == nil || w.store == nil || w.registry == nil {
		return fmt.Errorf("stalled saga sweep worker is not initialized")
	}

	states, err := w.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sagas: %w", err)
	}

	stalled := 0
	for _, state := range states {
		waited := w.now().Sub(state.UpdatedAt)
		deadline, step := w.stepDeadline(state)
		if waited <= deadline {
			continue
		}
		stalled++
		logger.Warn("stalled saga",
			zap.String("saga_id", state.SagaID),
			zap.String("saga_type", state.SagaType),
			zap.String("status", string(state.Status)),
			zap.String("step", step),
			zap.Int("step_index", state.CurrentStepIndex),
			zap.Duration("waited", waited),
			zap.Duration("advisory_timeout", deadline),
		)
	}

	logger.Info("stalled saga sweep completed",
		zap.Int("active", len(states)),
		zap.Int("stalled", stalled),
	)
	return nil
}

// stepDeadline resolves the advisory timeout and step name for the
// saga's current step. Unknown types and out-of-range indexes fall back
// to the default timeout.
func (w *StalledSagaSweepWorker) stepDeadline(state *store.SagaState) (time.Duration, string) {
	def, err := w.registry.Get(state.SagaType)
	if err != nil {
		logger.Warn("active saga has unregistered type",
			zap.String("saga_id", state.SagaID),
			zap.String("saga_type", state.SagaType))
		return DefaultStepTimeout, ""
	}
	step, ok := def.Step(state.CurrentStepIndex)
	if !ok {
		return DefaultStepTimeout, ""
	}
	if step.TimeoutSeconds <= 0 {
		return DefaultStepTimeout, step.Name
	}
	return time.Duration(step.TimeoutSeconds) * time.Second, step.Name
}
