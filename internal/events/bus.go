package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
)

// EventStore defines the persistence operations required by the event bus.
type EventStore interface {
	InsertDomainEvent(ctx context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error)
}

// Dispatcher hands persisted events to asynchronous consumers.
type Dispatcher interface {
	Dispatch(ctx context.Context, event dbgen.DomainEvent) error
}

// Notifier reacts to emitted events in-process.
type Notifier interface {
	Notify(ctx context.Context, event dbgen.DomainEvent) error
}

// Bus persists domain events and fans them out to downstream handlers.
// The store may be bound to a transaction; fan-out failures never undo the
// persisted row and are returned joined.
type Bus struct {
	Store      EventStore
	Dispatcher Dispatcher
	Notifiers  []Notifier
}

// WithStore returns a copy of the bus that persists through store, typically
// a transaction-bound querier.
func (b *Bus) WithStore(store EventStore) *Bus {
	if b == nil {
		return &Bus{Store: store}
	}
	clone := *b
	clone.Store = store
	return &clone
}

// Emit records the event and dispatches it to all configured handlers.
func (b *Bus) Emit(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) (dbgen.DomainEvent, error) {
	ev, err := b.record(ctx, topic, aggregateID, payload)
	if err != nil {
		return dbgen.DomainEvent{}, err
	}
	return ev, b.Publish(ctx, ev)
}

func (b *Bus) record(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) (dbgen.DomainEvent, error) {
	if b == nil || b.Store == nil {
		return dbgen.DomainEvent{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return dbgen.DomainEvent{}, errors.New("events: topic is required")
	}
	if !aggregateID.Valid {
		return dbgen.DomainEvent{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return dbgen.DomainEvent{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev, err := b.Store.InsertDomainEvent(ctx, dbgen.InsertDomainEventParams{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
	})
	if err != nil {
		return dbgen.DomainEvent{}, fmt.Errorf("events: persist event: %w", err)
	}
	return ev, nil
}

// Record persists an event without fanning it out. Use it inside a
// transaction and call Publish once the transaction has committed.
func (b *Bus) Record(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) (dbgen.DomainEvent, error) {
	return b.record(ctx, topic, aggregateID, payload)
}

// Publish hands an already persisted event to the dispatcher and notifiers.
func (b *Bus) Publish(ctx context.Context, ev dbgen.DomainEvent) error {
	if b == nil {
		return nil
	}
	var joined error
	if b.Dispatcher != nil {
		if dispatchErr := b.Dispatcher.Dispatch(ctx, ev); dispatchErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: dispatch: %w", dispatchErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		data := []byte(v)
		if !json.Valid(data) {
			return nil, errors.New("payload is not valid json")
		}
		return data, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
