package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/catalog"
	"github.com/treasurehub/treasurehub-api/internal/config"
	"github.com/treasurehub/treasurehub-api/internal/events"
	"github.com/treasurehub/treasurehub-api/internal/lock"
	"github.com/treasurehub/treasurehub-api/internal/order"
)

// Periodic task types handled by the worker.
const (
	TaskPriceSweep  = "listings:price_sweep"
	TaskExpireHolds = "orders:expire_holds"
)

const jobLockTTL = 5 * time.Minute

// Sweeper runs one price-drop pass.
type Sweeper interface {
	Run(ctx context.Context) (catalog.SweepResult, error)
}

// HoldExpirer cancels pending orders whose holds lapsed.
type HoldExpirer interface {
	ExpireHolds(ctx context.Context, limit int) (int, error)
}

// Jobs holds the worker's task handlers. Periodic jobs take a Redis lock so
// a slow run is skipped rather than overlapped by the next tick.
type Jobs struct {
	Sweeper   Sweeper
	Orders    HoldExpirer
	Locker    lock.Locker
	BatchSize int
	Log       zerolog.Logger
}

// Jobs builds the worker handlers on top of d.
func (d *Dependencies) Jobs() Jobs {
	cfg := d.Config
	bus := d.EventBus()
	listingCache := catalog.NewCache(d.Redis, cfg.CatalogCacheTTL)
	return Jobs{
		Sweeper: &catalog.Sweeper{
			Q:         d.Queries,
			Events:    bus,
			Cache:     listingCache,
			BatchSize: cfg.SweepBatchSize,
			Log:       d.Log.With().Str("job", TaskPriceSweep).Logger(),
		},
		Orders: &order.Service{
			Q:      d.Queries,
			Tx:     order.PoolTx{Pool: d.DB},
			Holds:  lock.Holder{R: d.Redis, TTL: cfg.ListingHoldTTL},
			Cache:  listingCache,
			Events: bus,
			Log:    d.Log.With().Str("job", TaskExpireHolds).Logger(),
		},
		Locker:    lock.Locker{R: d.Redis},
		BatchSize: cfg.SweepBatchSize,
		Log:       d.Log,
	}
}

// Mux routes task types to handlers.
func (j Jobs) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskPriceSweep, j.HandlePriceSweep)
	mux.HandleFunc(TaskExpireHolds, j.HandleExpireHolds)
	mux.HandleFunc(events.TaskDeliver, j.HandleDeliver)
	return mux
}

func (j Jobs) HandlePriceSweep(ctx context.Context, _ *asynq.Task) error {
	return j.exclusive(ctx, TaskPriceSweep, func(ctx context.Context) error {
		res, err := j.Sweeper.Run(ctx)
		if err != nil {
			return err
		}
		j.Log.Info().Int("scanned", res.Scanned).Int("dropped", res.Dropped).Msg("price sweep finished")
		return nil
	})
}

func (j Jobs) HandleExpireHolds(ctx context.Context, _ *asynq.Task) error {
	return j.exclusive(ctx, TaskExpireHolds, func(ctx context.Context) error {
		n, err := j.Orders.ExpireHolds(ctx, j.BatchSize)
		if err != nil {
			return err
		}
		if n > 0 {
			j.Log.Info().Int("canceled", n).Msg("expired order holds")
		}
		return nil
	})
}

// HandleDeliver consumes fanned-out domain events. Unknown topics are
// dropped without retry.
func (j Jobs) HandleDeliver(_ context.Context, t *asynq.Task) error {
	env, err := events.DecodeTask(t)
	if err != nil {
		return err
	}
	if !events.Known(env.Topic) {
		return fmt.Errorf("unknown topic %q: %w", env.Topic, asynq.SkipRetry)
	}
	j.Log.Info().
		Str("topic", env.Topic).
		Str("event_id", env.ID).
		Str("aggregate_id", env.AggregateID).
		Msg("event delivered")
	return nil
}

func (j Jobs) exclusive(ctx context.Context, name string, fn func(context.Context) error) error {
	err := j.Locker.TryWithLock(ctx, "job:"+name, jobLockTTL, fn)
	if errors.Is(err, lock.ErrLocked) {
		j.Log.Debug().Str("job", name).Msg("previous run still active, skipping")
		return nil
	}
	return err
}

// RegisterSchedule enqueues the periodic jobs on their configured cron specs.
func RegisterSchedule(s *asynq.Scheduler, cfg *config.Config) error {
	for _, entry := range []struct {
		cron, task string
	}{
		{cfg.SweepCron, TaskPriceSweep},
		{cfg.HoldExpiryCron, TaskExpireHolds},
	} {
		if _, err := s.Register(entry.cron, asynq.NewTask(entry.task, nil), asynq.Queue(cfg.TaskQueue), asynq.MaxRetry(0)); err != nil {
			return fmt.Errorf("schedule %s: %w", entry.task, err)
		}
	}
	return nil
}
