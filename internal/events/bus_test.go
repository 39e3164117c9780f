package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/events"
)

type stubStore struct {
	lastParams dbgen.InsertDomainEventParams
	event      dbgen.DomainEvent
}

func (s *stubStore) InsertDomainEvent(_ context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error) {
	s.lastParams = arg
	if !s.event.ID.Valid {
		id := uuid.New()
		s.event.ID = pgtype.UUID{Bytes: id, Valid: true}
	}
	s.event.Topic = arg.Topic
	s.event.AggregateID = arg.AggregateID
	s.event.Payload = arg.Payload
	if !s.event.OccurredAt.Valid {
		s.event.OccurredAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}
	return s.event, nil
}

type captureDispatcher struct {
	events []dbgen.DomainEvent
	err    error
}

func (c *captureDispatcher) Dispatch(_ context.Context, event dbgen.DomainEvent) error {
	c.events = append(c.events, event)
	return c.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

type captureNotifier struct {
	events []dbgen.DomainEvent
}

func (c *captureNotifier) Notify(_ context.Context, event dbgen.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func toUUID(u uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: u, Valid: true}
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	scheduler := &captureDispatcher{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:      store,
		Dispatcher: scheduler,
		Notifiers:  []events.Notifier{notifier},
	}

	aggregate := uuid.New()
	payload := map[string]any{"orderId": "123"}
	ctx := context.Background()
	event, err := bus.Emit(ctx, events.TopicOrderCreated, toUUID(aggregate), payload)
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderCreated, store.lastParams.Topic)
	require.JSONEq(t, `{"orderId":"123"}`, string(store.lastParams.Payload))
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, scheduler.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "123", decoded["orderId"])
}

func TestEmitRejectsMissingFields(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	ctx := context.Background()

	_, err := bus.Emit(ctx, "  ", toUUID(uuid.New()), nil)
	require.Error(t, err)

	_, err = bus.Emit(ctx, events.TopicOrderCreated, pgtype.UUID{}, nil)
	require.Error(t, err)

	_, err = bus.Emit(ctx, events.TopicOrderCreated, toUUID(uuid.New()), "not json")
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(ctx, events.TopicOrderCreated, toUUID(uuid.New()), nil)
	require.Error(t, err)
}

func TestEmitKeepsEventWhenDispatchFails(t *testing.T) {
	store := &stubStore{}
	bus := events.Bus{Store: store, Dispatcher: &captureDispatcher{err: errors.New("redis down")}}

	event, err := bus.Emit(context.Background(), events.TopicPromoRedeemed, toUUID(uuid.New()), nil)
	require.Error(t, err)
	require.True(t, event.ID.Valid)
	require.JSONEq(t, `{}`, string(store.lastParams.Payload))
}

func TestWithStoreSwapsPersistence(t *testing.T) {
	original := &stubStore{}
	txStore := &stubStore{}
	dispatcher := &captureDispatcher{}
	bus := &events.Bus{Store: original, Dispatcher: dispatcher}

	_, err := bus.WithStore(txStore).Emit(context.Background(), events.TopicListingHeld, toUUID(uuid.New()), map[string]int{"n": 1})
	require.NoError(t, err)
	require.Equal(t, events.TopicListingHeld, txStore.lastParams.Topic)
	require.Empty(t, original.lastParams.Topic)
	require.Len(t, dispatcher.events, 1)
	require.Same(t, original, bus.Store)
}

func TestAsynqDispatcherEnqueuesEnvelope(t *testing.T) {
	enq := &fakeEnqueuer{}
	dispatcher := events.AsynqDispatcher{Client: enq, Queue: "events", MaxRetry: 3}
	eventID := uuid.New()
	aggregate := uuid.New()
	ev := dbgen.DomainEvent{
		ID:          toUUID(eventID),
		Topic:       events.TopicListingPriceDropped,
		AggregateID: toUUID(aggregate),
		Payload:     []byte(`{"price":85}`),
		OccurredAt:  pgtype.Timestamptz{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Valid: true},
	}

	require.NoError(t, dispatcher.Dispatch(context.Background(), ev))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, events.TaskDeliver, enq.tasks[0].Type())
	require.Len(t, enq.opts[0], 3)

	env, err := events.DecodeTask(enq.tasks[0])
	require.NoError(t, err)
	require.Equal(t, eventID.String(), env.ID)
	require.Equal(t, aggregate.String(), env.AggregateID)
	require.Equal(t, events.TopicListingPriceDropped, env.Topic)
	require.JSONEq(t, `{"price":85}`, string(env.Payload))
}

func TestAsynqDispatcherIgnoresDuplicateTaskID(t *testing.T) {
	enq := &fakeEnqueuer{err: asynq.ErrTaskIDConflict}
	dispatcher := events.AsynqDispatcher{Client: enq}
	ev := dbgen.DomainEvent{ID: toUUID(uuid.New()), Topic: events.TopicOrderPaid, AggregateID: toUUID(uuid.New())}
	require.NoError(t, dispatcher.Dispatch(context.Background(), ev))

	enq.err = errors.New("boom")
	require.Error(t, dispatcher.Dispatch(context.Background(), ev))
}

func TestKnownTopics(t *testing.T) {
	require.True(t, events.Known(events.TopicOrderCanceled))
	require.False(t, events.Known("shipment.shipped"))
}

func TestRecordDefersFanOut(t *testing.T) {
	store := &stubStore{}
	dispatcher := &captureDispatcher{}
	notifier := &captureNotifier{}
	bus := &events.Bus{Dispatcher: dispatcher, Notifiers: []events.Notifier{notifier}}

	ev, err := bus.WithStore(store).Record(context.Background(), events.TopicOrderCreated, toUUID(uuid.New()), map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Empty(t, dispatcher.events)
	require.Empty(t, notifier.events)

	require.NoError(t, bus.Publish(context.Background(), ev))
	require.Len(t, dispatcher.events, 1)
	require.Len(t, notifier.events, 1)
}
