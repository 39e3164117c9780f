// Package app assembles the process-wide dependencies shared by the API and
// the worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/config"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/events"
	"github.com/treasurehub/treasurehub-api/internal/obs"
)

// Dependencies holds connections opened once per process.
type Dependencies struct {
	Config   *config.Config
	Log      zerolog.Logger
	DB       *pgxpool.Pool
	Queries  *dbgen.Queries
	Redis    *redis.Client
	Tasks    *asynq.Client
	Registry *prometheus.Registry
}

// Open connects to Postgres and Redis and verifies both answer a ping.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger, appName string) (*Dependencies, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	rdb, err := OpenRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled)
	if err != nil {
		pool.Close()
		return nil, err
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("parse task queue redis url: %w", err)
	}

	reg := obs.NewRegistry()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, reg)

	return &Dependencies{
		Config:   cfg,
		Log:      log,
		DB:       pool,
		Queries:  dbgen.New(pool),
		Redis:    rdb,
		Tasks:    asynq.NewClient(redisOpt),
		Registry: reg,
	}, nil
}

// OpenRedis connects a traced go-redis client.
func OpenRedis(ctx context.Context, url string, withMetrics bool) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			return nil, fmt.Errorf("instrument redis metrics: %w", err)
		}
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// EventBus persists events through the pool and fans them out to the worker
// queue and the log.
func (d *Dependencies) EventBus() *events.Bus {
	bus := &events.Bus{
		Notifiers: []events.Notifier{events.LogNotifier{Logger: d.Log}},
	}
	if d.Queries != nil {
		bus.Store = d.Queries
	}
	if d.Tasks != nil {
		bus.Dispatcher = events.AsynqDispatcher{Client: d.Tasks, Queue: d.Config.TaskQueue}
	}
	return bus
}

// Close releases every connection. It is safe on a partially built value.
func (d *Dependencies) Close() error {
	var errs []error
	if d.Tasks != nil {
		errs = append(errs, d.Tasks.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	return errors.Join(errs...)
}
