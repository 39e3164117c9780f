package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/db"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/events"
)

// Querier captures the database methods required by the order service.
type Querier interface {
	GetOrder(ctx context.Context, id pgtype.UUID) (dbgen.Order, error)
	GetOrderForUser(ctx context.Context, arg dbgen.GetOrderForUserParams) (dbgen.Order, error)
	ListOrdersByUser(ctx context.Context, arg dbgen.ListOrdersByUserParams) ([]dbgen.Order, error)
	CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]dbgen.OrderItem, error)
	TransitionOrderStatus(ctx context.Context, arg dbgen.TransitionOrderStatusParams) (dbgen.Order, error)
	ReleaseOrderHolds(ctx context.Context, orderID pgtype.UUID) (int64, error)
	MarkOrderListingsSold(ctx context.Context, orderID pgtype.UUID) (int64, error)
	ListExpiredPendingOrders(ctx context.Context, arg dbgen.ListExpiredPendingOrdersParams) ([]dbgen.Order, error)
	InsertDomainEvent(ctx context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error)
}

// Tx runs fn with a transaction-bound querier.
type Tx interface {
	InTx(ctx context.Context, fn func(Querier) error) error
}

// PoolTx adapts a pgx pool to Tx.
type PoolTx struct {
	Pool db.TxBeginner
}

func (p PoolTx) InTx(ctx context.Context, fn func(Querier) error) error {
	return db.InTx(ctx, p.Pool, func(q *dbgen.Queries) error { return fn(q) })
}

// HoldReleaser drops the Redis holds an order owns.
type HoldReleaser interface {
	Release(ctx context.Context, owner string, listingIDs ...string) (int, error)
}

// CacheInvalidator drops cached listing reads after their status changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, listingIDs ...string) error
}

var (
	// ErrInvalidTransition is returned for status changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrHoldLapsed is returned when an order is paid after its listings were released.
	ErrHoldLapsed = errors.New("order hold lapsed")
)

var transitions = map[dbgen.OrderStatus][]dbgen.OrderStatus{
	dbgen.OrderStatusPending: {dbgen.OrderStatusPaid, dbgen.OrderStatusCanceled},
	dbgen.OrderStatusPaid:    {dbgen.OrderStatusFulfilled},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to dbgen.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Service exposes order reads and lifecycle transitions. Promo usage is never
// returned on cancellation.
type Service struct {
	Q      Querier
	Tx     Tx
	Holds  HoldReleaser
	Cache  CacheInvalidator
	Events *events.Bus
	Now    func() time.Time
	Log    zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) ready() error {
	if s == nil || s.Q == nil || s.Tx == nil {
		return errors.New("order service not configured")
	}
	return nil
}

// List returns a page of the user's orders, newest first.
func (s *Service) List(ctx context.Context, userID string, page, perPage int) ([]View, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	uid, err := common.ToUUID(userID)
	if err != nil {
		return nil, 0, common.Unauthorized("invalid user")
	}
	total, err := s.Q.CountOrdersByUser(ctx, uid)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.Q.ListOrdersByUser(ctx, dbgen.ListOrdersByUserParams{
		UserID: uid,
		Limit:  int32(perPage),
		Offset: common.Offset(page, perPage),
	})
	if err != nil {
		return nil, 0, err
	}
	views := make([]View, 0, len(rows))
	for _, o := range rows {
		views = append(views, NewView(o, nil))
	}
	return views, total, nil
}

// Get returns one of the user's orders with its items.
func (s *Service) Get(ctx context.Context, userID, orderID string) (View, error) {
	if err := s.ready(); err != nil {
		return View{}, err
	}
	o, err := s.loadForUser(ctx, userID, orderID)
	if err != nil {
		return View{}, err
	}
	items, err := s.Q.ListOrderItems(ctx, o.ID)
	if err != nil {
		return View{}, err
	}
	return NewView(o, items), nil
}

// Cancel cancels a pending order owned by the user and releases its holds.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (View, error) {
	if err := s.ready(); err != nil {
		return View{}, err
	}
	o, err := s.loadForUser(ctx, userID, orderID)
	if err != nil {
		return View{}, err
	}
	return s.transition(ctx, o, dbgen.OrderStatusCanceled, "buyer")
}

// SetStatus applies an administrative status change.
func (s *Service) SetStatus(ctx context.Context, orderID, status string) (View, error) {
	if err := s.ready(); err != nil {
		return View{}, err
	}
	oid, err := common.ToUUID(orderID)
	if err != nil {
		return View{}, common.BadRequest("BAD_REQUEST", "invalid order id")
	}
	o, err := s.Q.GetOrder(ctx, oid)
	if err != nil {
		return View{}, notFoundOr(err)
	}
	return s.transition(ctx, o, dbgen.OrderStatus(status), "admin")
}

// ExpireHolds cancels pending orders whose hold lapsed before now and
// returns how many were canceled.
func (s *Service) ExpireHolds(ctx context.Context, limit int) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Q.ListExpiredPendingOrders(ctx, dbgen.ListExpiredPendingOrdersParams{
		Before: pgtype.Timestamptz{Time: s.now(), Valid: true},
		Limit:  int32(limit),
	})
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, o := range rows {
		if _, err := s.transition(ctx, o, dbgen.OrderStatusCanceled, "hold_expired"); err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) && appErr.HTTPStatus == http.StatusConflict {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) transition(ctx context.Context, o dbgen.Order, to dbgen.OrderStatus, actor string) (View, error) {
	if !CanTransition(o.Status, to) {
		return View{}, common.NewAppError("INVALID_STATUS_TRANSITION",
			fmt.Sprintf("cannot move order from %s to %s", o.Status, to), http.StatusConflict, ErrInvalidTransition).
			WithDetails(map[string]any{"from": o.Status, "to": to})
	}
	if to == dbgen.OrderStatusPaid && o.HoldExpiresAt.Valid && o.HoldExpiresAt.Time.Before(s.now()) {
		return View{}, holdLapsed(o)
	}
	var (
		updated dbgen.Order
		items   []dbgen.OrderItem
		emitted []dbgen.DomainEvent
	)
	err := s.Tx.InTx(ctx, func(q Querier) error {
		var err error
		updated, err = q.TransitionOrderStatus(ctx, dbgen.TransitionOrderStatusParams{ID: o.ID, From: o.Status, To: to})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NewAppError("STATUS_CHANGED", "order status changed concurrently", http.StatusConflict, ErrInvalidTransition)
			}
			return err
		}
		items, err = q.ListOrderItems(ctx, o.ID)
		if err != nil {
			return err
		}
		var topic string
		switch to {
		case dbgen.OrderStatusCanceled:
			if _, err := q.ReleaseOrderHolds(ctx, o.ID); err != nil {
				return err
			}
			topic = events.TopicOrderCanceled
		case dbgen.OrderStatusPaid:
			sold, err := q.MarkOrderListingsSold(ctx, o.ID)
			if err != nil {
				return err
			}
			// Every line must still be held by this order.
			if sold != int64(len(items)) {
				return holdLapsed(o)
			}
			topic = events.TopicOrderPaid
		}
		if topic == "" {
			return nil
		}
		ev, err := s.Events.WithStore(q).Record(ctx, topic, o.ID, map[string]any{
			"orderId": common.UUIDString(o.ID),
			"userId":  common.UUIDString(o.UserID),
			"from":    o.Status,
			"to":      to,
			"actor":   actor,
		})
		if err != nil {
			return err
		}
		emitted = append(emitted, ev)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	for _, ev := range emitted {
		if err := s.Events.Publish(ctx, ev); err != nil {
			s.Log.Warn().Err(err).Str("topic", ev.Topic).Msg("publish order event")
		}
	}
	if s.Holds != nil && (to == dbgen.OrderStatusCanceled || to == dbgen.OrderStatusPaid) {
		if _, err := s.Holds.Release(ctx, common.UUIDString(o.ID), listingIDs(items)...); err != nil {
			s.Log.Warn().Err(err).Str("order_id", common.UUIDString(o.ID)).Msg("release listing holds")
		}
	}
	if s.Cache != nil && (to == dbgen.OrderStatusCanceled || to == dbgen.OrderStatusPaid) {
		if err := s.Cache.Invalidate(ctx, listingIDs(items)...); err != nil {
			s.Log.Warn().Err(err).Str("order_id", common.UUIDString(o.ID)).Msg("invalidate listing cache")
		}
	}
	s.Log.Info().
		Str("order_id", common.UUIDString(o.ID)).
		Str("from", string(o.Status)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("order_status_changed")
	return NewView(updated, items), nil
}

func (s *Service) loadForUser(ctx context.Context, userID, orderID string) (dbgen.Order, error) {
	uid, err := common.ToUUID(userID)
	if err != nil {
		return dbgen.Order{}, common.Unauthorized("invalid user")
	}
	oid, err := common.ToUUID(orderID)
	if err != nil {
		return dbgen.Order{}, common.BadRequest("BAD_REQUEST", "invalid order id")
	}
	o, err := s.Q.GetOrderForUser(ctx, dbgen.GetOrderForUserParams{ID: oid, UserID: uid})
	if err != nil {
		return dbgen.Order{}, notFoundOr(err)
	}
	return o, nil
}

func listingIDs(items []dbgen.OrderItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, common.UUIDString(it.ListingID))
	}
	return ids
}

func holdLapsed(o dbgen.Order) error {
	return common.NewAppError("HOLD_LAPSED", "order hold expired before payment", http.StatusConflict, ErrHoldLapsed).
		WithDetails(map[string]any{"orderId": common.UUIDString(o.ID)})
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NotFound("NOT_FOUND", "order not found")
	}
	return err
}
