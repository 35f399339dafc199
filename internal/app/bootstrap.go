// Package app — composition root. Bootstrap stays orchestration-only:
// components are constructed here and wired by hand, no DI framework.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"sagaflow.io/sagaflow/internal/api/handlers"
	"sagaflow.io/sagaflow/internal/broker"
	"sagaflow.io/sagaflow/internal/config"
	"sagaflow.io/sagaflow/internal/jobs"
	"sagaflow.io/sagaflow/internal/orchestrator"
	"sagaflow.io/sagaflow/internal/pkg/logger"
	"sagaflow.io/sagaflow/internal/pkg/worker"
	"sagaflow.io/sagaflow/internal/saga"
	"sagaflow.io/sagaflow/internal/store"
	"sagaflow.io/sagaflow/internal/stream"
)

// Application holds composed application dependencies.
type Application struct {
	Config      *config.Config
	Router      *gin.Engine
	Store       store.Store
	Pools       *worker.Pools
	Hub         *stream.Hub
	Broadcaster stream.Broadcaster
	Publisher   *broker.KafkaPublisher
	Consumer    *broker.KafkaConsumer
	River       *river.Client[pgx.Tx]
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		StreamPoolSize:  cfg.Worker.StreamPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	var (
		st store.Store
		pg *store.Postgres
	)
	if cfg.Database.Enabled() {
		pg, err = store.NewPostgres(ctx, cfg.Database)
		if err != nil {
			pools.Shutdown()
			return nil, fmt.Errorf("init event store: %w", err)
		}
		st = pg
	} else {
		st = store.NewMemory()
		logger.Warn("No database configured, saga state is in-memory and lost on restart")
	}

	var (
		broadcaster stream.Broadcaster
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			closeStore(st)
			pools.Shutdown()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		broadcaster = stream.NewRedisBroadcaster(redisClient, pools)
	} else {
		broadcaster = stream.NewMemoryBroadcaster()
		logger.Warn("No Redis configured, live event streaming is process-local")
	}

	registry := saga.NewRegistry()
	defs, err := saga.BuiltinDefinitions(cfg.Saga.ResponseTopic)
	if err != nil {
		broadcaster.Close()
		closeStore(st)
		pools.Shutdown()
		return nil, fmt.Errorf("build saga catalog: %w", err)
	}
	for _, def := range defs {
		registry.Register(def)
	}

	hub := stream.NewHub(st, broadcaster, cfg.Stream.IdleTimeout)
	notifier := stream.NewEventNotifier(broadcaster)

	publisher := broker.NewKafkaPublisher(cfg.Kafka)
	orch := orchestrator.New(registry, st, publisher, notifier)
	listener := orchestrator.NewResponseListener(orch)
	consumer := broker.NewKafkaConsumer(cfg.Kafka,
		cfg.Saga.ConsumerGroup,
		[]string{cfg.Saga.ResponseTopic},
		listener.Handle,
	)

	var riverClient *river.Client[pgx.Tx]
	if cfg.Sweep.Enabled {
		if pg == nil {
			logger.Warn("Stalled saga sweep requires a database, sweep disabled")
		} else {
			riverClient, err = initSweep(ctx, pg, st, registry, cfg)
			if err != nil {
				publisher.Close()
				hub.Close()
				broadcaster.Close()
				closeStore(st)
				pools.Shutdown()
				return nil, fmt.Errorf("init stalled saga sweep: %w", err)
			}
		}
	}

	server := handlers.NewServer(handlers.ServerDeps{
		Orchestrator: orch,
		Registry:     registry,
		Store:        st,
		Hub:          hub,
	})

	logger.Info("Application bootstrapped",
		zap.Int("saga_types", len(defs)),
		zap.Bool("durable_store", pg != nil),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("sweep", riverClient != nil),
	)

	return &Application{
		Config:      cfg,
		Router:      NewRouter(server),
		Store:       st,
		Pools:       pools,
		Hub:         hub,
		Broadcaster: broadcaster,
		Publisher:   publisher,
		Consumer:    consumer,
		River:       riverClient,
	}, nil
}

// initSweep migrates the river job tables and builds a client running the
// periodic stalled-saga sweep on the shared store pool.
func initSweep(ctx context.Context, pg *store.Postgres, st store.Store, registry *saga.Registry, cfg *config.Config) (*river.Client[pgx.Tx], error) {
	driver := riverpgxv5.New(pg.Pool())

	if cfg.Database.AutoMigrate {
		migrator, err := rivermigrate.New(driver, nil)
		if err != nil {
			return nil, fmt.Errorf("create river migrator: %w", err)
		}
		res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
		if err != nil {
			return nil, fmt.Errorf("river migrate up: %w", err)
		}
		if len(res.Versions) > 0 {
			logger.Info("River migration completed",
				zap.Int("versions_applied", len(res.Versions)),
			)
		}
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewStalledSagaSweepWorker(st, registry))

	interval := cfg.Sweep.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}

	client.PeriodicJobs().Add(
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.StalledSagaSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	)
	return client, nil
}

func closeStore(st store.Store) {
	if err := st.Close(); err != nil {
		logger.Error("failed to close event store", zap.Error(err))
	}
}
