package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/common"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
)

// TaskDeliver is the asynq task type carrying a persisted domain event.
const TaskDeliver = "events:deliver"

// Enqueuer is the subset of *asynq.Client used by the dispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Envelope is the task payload written for each event.
type Envelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  string          `json:"occurredAt"`
}

// AsynqDispatcher enqueues events for the worker. The event id doubles as the
// task id so a retried emit never produces two deliveries.
type AsynqDispatcher struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
}

func (d AsynqDispatcher) Dispatch(ctx context.Context, event dbgen.DomainEvent) error {
	if d.Client == nil {
		return nil
	}
	task, err := NewDeliverTask(event)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(common.UUIDString(event.ID))}
	if d.Queue != "" {
		opts = append(opts, asynq.Queue(d.Queue))
	}
	if d.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(d.MaxRetry))
	}
	if _, err := d.Client.EnqueueContext(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", event.Topic, err)
	}
	return nil
}

// NewDeliverTask wraps event into an asynq task.
func NewDeliverTask(event dbgen.DomainEvent) (*asynq.Task, error) {
	env := Envelope{
		ID:          common.UUIDString(event.ID),
		Topic:       event.Topic,
		AggregateID: common.UUIDString(event.AggregateID),
		Payload:     json.RawMessage(event.Payload),
	}
	if event.OccurredAt.Valid {
		env.OccurredAt = event.OccurredAt.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliver, data), nil
}

// DecodeTask reads the envelope back from a delivered task.
func DecodeTask(task *asynq.Task) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return Envelope{}, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return env, nil
}

// LogNotifier writes every emitted event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, event dbgen.DomainEvent) error {
	n.Logger.Info().
		Str("topic", event.Topic).
		Str("aggregate_id", common.UUIDString(event.AggregateID)).
		Str("event_id", common.UUIDString(event.ID)).
		Msg("domain event")
	return nil
}
