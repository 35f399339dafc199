package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/config"
	apperrors "sagaflow.io/sagaflow/internal/pkg/errors"
	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/saga"
)

// pgUniqueViolation is the Postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS saga_states (
	saga_id            TEXT PRIMARY KEY,
	saga_type          TEXT NOT NULL,
	status             TEXT NOT NULL,
	current_step_index INT NOT NULL DEFAULT 0,
	total_steps        INT NOT NULL,
	saga_data          JSONB NOT NULL DEFAULT '{}',
	version            BIGINT NOT NULL DEFAULT 1,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS saga_events (
	id              BIGSERIAL PRIMARY KEY,
	event_id        TEXT NOT NULL,
	saga_id         TEXT NOT NULL,
	sequence_number BIGINT NOT NULL,
	event_type      TEXT NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	payload         JSONB NOT NULL DEFAULT '{}',
	step_name       TEXT,
	step_index      INT,
	success         BOOLEAN NOT NULL DEFAULT true,
	error_message   TEXT,
	CONSTRAINT saga_events_event_id_key UNIQUE (event_id),
	CONSTRAINT saga_events_saga_seq_key UNIQUE (saga_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_saga_events_saga_id ON saga_events (saga_id);
CREATE INDEX IF NOT EXISTS idx_saga_states_status ON saga_states (status);
`

// Postgres is the durable Store backed by pgx. All connections come from
// one shared pgxpool, also handed to the river sweep job.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects the pool and optionally migrates the schema.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = time.Minute

	// Keep timestamps in UTC on every connection.
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if _, err := pool.Exec(ctx, schemaDDL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	logger.Info("Event store connected",
		zap.Int32("max_conns", cfg.MaxConns),
		zap.Bool("auto_migrate", cfg.AutoMigrate),
	)
	return &Postgres{pool: pool}, nil
}

var _ Store = (*Postgres)(nil)

// Pool exposes the shared connection pool for the river sweep client.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) CreateState(ctx context.Context, state *SagaState) error {
	data, err := json.Marshal(state.SagaData)
	if err != nil {
		return fmt.Errorf("marshal saga data: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO saga_states
			(saga_id, saga_type, status, current_step_index, total_steps, saga_data, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		state.SagaID, state.SagaType, state.Status, state.CurrentStepIndex,
		state.TotalSteps, data, state.Version, state.CreatedAt, state.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperrors.Wrap(apperrors.ErrDuplicateSaga, apperrors.CodeSagaDuplicate,
			"saga id already exists", http.StatusConflict)
	}
	if err != nil {
		return fmt.Errorf("insert saga state: %w", err)
	}
	return nil
}

func (p *Postgres) GetState(ctx context.Context, sagaID string) (*SagaState, error) {
	return scanState(p.pool.QueryRow(ctx, `
		SELECT saga_id, saga_type, status, current_step_index, total_steps, saga_data, version, created_at, updated_at
		FROM saga_states WHERE saga_id = $1`, sagaID), sagaID)
}

func (p *Postgres) UpdateState(ctx context.Context, sagaID string, update StateUpdate) (*SagaState, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	state, err := scanState(tx.QueryRow(ctx, `
		SELECT saga_id, saga_type, status, current_step_index, total_steps, saga_data, version, created_at, updated_at
		FROM saga_states WHERE saga_id = $1 FOR UPDATE`, sagaID), sagaID)
	if err != nil {
		return nil, err
	}
	if update.ExpectedVersion != nil && state.Version != *update.ExpectedVersion {
		return nil, apperrors.Wrap(apperrors.ErrVersionConflict, apperrors.CodeVersionConflict,
			"stale saga state version", http.StatusConflict)
	}

	if update.Status != nil {
		state.Status = *update.Status
	}
	if update.CurrentStepIndex != nil {
		state.CurrentStepIndex = *update.CurrentStepIndex
	}
	if update.SagaData != nil {
		state.SagaData = update.SagaData
	}
	state.Version++
	state.UpdatedAt = time.Now()

	data, err := json.Marshal(state.SagaData)
	if err != nil {
		return nil, fmt.Errorf("marshal saga data: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE saga_states
		SET status = $2, current_step_index = $3, saga_data = $4, version = $5, updated_at = $6
		WHERE saga_id = $1`,
		sagaID, state.Status, state.CurrentStepIndex, data, state.Version, state.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update saga state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return state, nil
}

func (p *Postgres) ListActive(ctx context.Context) ([]*SagaState, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT saga_id, saga_type, status, current_step_index, total_steps, saga_data, version, created_at, updated_at
		FROM saga_states
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at`,
		saga.StatusCompleted, saga.StatusFailed, saga.StatusCompensationCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("query active sagas: %w", err)
	}
	defer rows.Close()

	var states []*SagaState
	for rows.Next() {
		state, err := scanState(rows, "")
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (p *Postgres) AppendEvent(ctx context.Context, event *Event) (*Event, error) {
	payload, err := json.Marshal(orEmpty(event.Payload))
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// The next sequence number is computed inside the insert. Per-saga
	// serial consumption (broker partition affinity) makes this race-free
	// in practice; the unique (saga_id, sequence_number) constraint
	// turns any violation into an error instead of an overwrite.
	row := p.pool.QueryRow(ctx, `
		INSERT INTO saga_events
			(event_id, saga_id, sequence_number, event_type, timestamp, payload, step_name, step_index, success, error_message)
		SELECT $1, $2, coalesce(max(sequence_number), 0) + 1, $3, $4, $5, $6, $7, $8, $9
		FROM saga_events WHERE saga_id = $2
		RETURNING sequence_number`,
		event.EventID, event.SagaID, event.EventType, event.Timestamp, payload,
		nullableString(event.StepName), event.StepIndex, event.Success,
		nullableString(event.ErrorMessage),
	)

	stored := *event
	if err := row.Scan(&stored.SequenceNumber); err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Wrap(apperrors.ErrDuplicateEvent, apperrors.CodeEventDuplicate,
				"event id already appended", http.StatusConflict)
		}
		return nil, fmt.Errorf("append event: %w", err)
	}
	return &stored, nil
}

func (p *Postgres) GetEvents(ctx context.Context, sagaID string) ([]*Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT event_id, saga_id, sequence_number, event_type, timestamp, payload, step_name, step_index, success, error_message
		FROM saga_events WHERE saga_id = $1
		ORDER BY sequence_number`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			ev       Event
			payload  []byte
			stepName *string
			errMsg   *string
		)
		if err := rows.Scan(&ev.EventID, &ev.SagaID, &ev.SequenceNumber, &ev.EventType,
			&ev.Timestamp, &payload, &stepName, &ev.StepIndex, &ev.Success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		if stepName != nil {
			ev.StepName = *stepName
		}
		if errMsg != nil {
			ev.ErrorMessage = *errMsg
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (p *Postgres) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM saga_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event id: %w", err)
	}
	return exists, nil
}

func (p *Postgres) GetEventSourcing(ctx context.Context, sagaID string) (*EventSourcing, error) {
	state, err := p.GetState(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	events, err := p.GetEvents(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	return &EventSourcing{
		SagaID:           state.SagaID,
		SagaType:         state.SagaType,
		Status:           state.Status,
		CurrentStepIndex: state.CurrentStepIndex,
		TotalSteps:       state.TotalSteps,
		Events:           events,
		CreatedAt:        state.CreatedAt,
		UpdatedAt:        state.UpdatedAt,
	}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner, sagaID string) (*SagaState, error) {
	var (
		state SagaState
		data  []byte
	)
	err := row.Scan(&state.SagaID, &state.SagaType, &state.Status, &state.CurrentStepIndex,
		&state.TotalSteps, &data, &state.Version, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.SagaNotFound(sagaID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan saga state: %w", err)
	}
	if err := json.Unmarshal(data, &state.SagaData); err != nil {
		return nil, fmt.Errorf("unmarshal saga data: %w", err)
	}
	return &state, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty(p saga.Payload) saga.Payload {
	if p == nil {
		return saga.Payload{}
	}
	return p
}
