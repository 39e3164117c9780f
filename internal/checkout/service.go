package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/treasurehub/treasurehub-api/internal/cart"
	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/db"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/events"
	"github.com/treasurehub/treasurehub-api/internal/lock"
	"github.com/treasurehub/treasurehub-api/internal/obs"
	"github.com/treasurehub/treasurehub-api/internal/order"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
	"github.com/treasurehub/treasurehub-api/internal/promo"
)

// DefaultHoldTTL is how long a pending order keeps its listings.
const DefaultHoldTTL = 15 * time.Minute

var (
	// ErrCartEmpty is returned when there is nothing to check out.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrListingUnavailable is returned when a line can no longer be bought.
	ErrListingUnavailable = errors.New("listing unavailable")
)

// Querier captures the database methods a checkout transaction needs.
type Querier interface {
	promo.Querier
	GetCartByUserForUpdate(ctx context.Context, userID pgtype.UUID) (dbgen.Cart, error)
	ListCartLines(ctx context.Context, cartID pgtype.UUID) ([]dbgen.ListCartLinesRow, error)
	CreateOrder(ctx context.Context, arg dbgen.CreateOrderParams) (dbgen.Order, error)
	CreateOrderItem(ctx context.Context, arg dbgen.CreateOrderItemParams) error
	HoldListing(ctx context.Context, arg dbgen.HoldListingParams) (int64, error)
	ClearCart(ctx context.Context, cartID pgtype.UUID) error
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

// Redeemer consumes one use of a promo code inside the caller's transaction.
type Redeemer interface {
	Redeem(ctx context.Context, q promo.Querier, code string, orderTotal decimal.Decimal) (promo.Result, error)
}

// Holds places TTL holds on listings in Redis.
type Holds interface {
	Acquire(ctx context.Context, owner string, listingIDs ...string) error
	Release(ctx context.Context, owner string, listingIDs ...string) (int, error)
}

// CacheInvalidator drops cached listing reads once listings are held.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, listingIDs ...string) error
}

// Input carries the optional checkout overrides.
type Input struct {
	DeliveryMethod string `json:"deliveryMethod,omitempty"`
}

// Service turns a cart into a pending order.
type Service struct {
	Tx       Tx
	Promo    Redeemer
	Holds    Holds
	Cache    CacheInvalidator
	Events   *events.Bus
	Rates    pricing.Rates
	Currency string
	HoldTTL  time.Duration
	Now      func() time.Time
	Log      zerolog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) rates() pricing.Rates {
	if s.Rates.TaxRate.IsZero() && s.Rates.FeeThreshold.IsZero() {
		return pricing.DefaultRates()
	}
	return s.Rates
}

func (s *Service) holdTTL() time.Duration {
	if s.HoldTTL > 0 {
		return s.HoldTTL
	}
	return DefaultHoldTTL
}

func (s *Service) currency() string {
	if s.Currency != "" {
		return s.Currency
	}
	return "USD"
}

// Create checks out the user's cart. Pricing, promo redemption, order
// persistence and listing holds commit together or not at all.
func (s *Service) Create(ctx context.Context, userID string, in Input) (order.View, error) {
	if s == nil || s.Tx == nil {
		return order.View{}, errors.New("checkout service not configured")
	}
	uid, err := common.ToUUID(userID)
	if err != nil {
		return order.View{}, common.Unauthorized("invalid user")
	}
	var override pricing.DeliveryMethod
	if in.DeliveryMethod != "" {
		m, ok := pricing.ParseDeliveryMethod(in.DeliveryMethod)
		if !ok {
			return order.View{}, common.BadRequest("INVALID_DELIVERY_METHOD", "deliveryMethod must be delivery or pickup")
		}
		override = m
	}

	now := s.now()
	holdUntil := now.Add(s.holdTTL())
	orderID := common.NewUUID()
	owner := common.UUIDString(orderID)

	var (
		created  dbgen.Order
		items    []dbgen.OrderItem
		emitted  []dbgen.DomainEvent
		heldIDs  []string
		redeemed *promo.Result
	)
	err = s.Tx.InTx(ctx, func(q Querier) error {
		c, err := q.GetCartByUserForUpdate(ctx, uid)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cartEmpty()
			}
			return err
		}
		rows, err := q.ListCartLines(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return cartEmpty()
		}
		priced, lines := cart.PriceLines(rows, now)
		var unavailable []string
		for _, l := range priced {
			if !l.Available {
				unavailable = append(unavailable, l.ListingID)
			}
		}
		if len(unavailable) > 0 {
			return unavailableErr(unavailable)
		}

		method := override
		if method == "" {
			var ok bool
			if method, ok = pricing.ParseDeliveryMethod(c.DeliveryMethod); !ok {
				method = pricing.Delivery
			}
		}
		totals := s.rates().Compute(lines, method)

		if c.PromoCode.Valid && c.PromoCode.String != "" {
			if s.Promo == nil {
				return errors.New("promo redeemer not configured")
			}
			res, err := s.Promo.Redeem(ctx, q, c.PromoCode.String, totals.Total)
			if err != nil {
				return err
			}
			if !res.Valid {
				return common.NewAppError("PROMO_INVALID", res.Message, http.StatusUnprocessableEntity, nil).
					WithDetails(map[string]any{"code": res.Code, "reason": res.Reason})
			}
			redeemed = &res
			totals = cart.ApplyPromo(totals, &res)
		}

		ids := make([]string, 0, len(priced))
		for _, l := range priced {
			ids = append(ids, l.ListingID)
		}
		if s.Holds != nil {
			if err := s.Holds.Acquire(ctx, owner, ids...); err != nil {
				var held *lock.HeldError
				if errors.As(err, &held) {
					return unavailableErr([]string{held.ListingID})
				}
				return fmt.Errorf("acquire listing holds: %w", err)
			}
			heldIDs = ids
		}

		params := dbgen.CreateOrderParams{
			ID:                 orderID,
			UserID:             uid,
			DeliveryMethod:     string(method),
			Currency:           s.currency(),
			SubtotalCents:      pricing.ToCents(totals.Subtotal),
			DeliveryFeeCents:   pricing.ToCents(totals.DeliveryFee),
			TaxAmountCents:     pricing.ToCents(totals.Tax),
			TaxRate:            db.NumericFromDecimal(totals.TaxRate),
			PromoDiscountCents: pricing.ToCents(totals.Discount),
			TotalCents:         pricing.ToCents(totals.Total),
			HoldExpiresAt:      pgtype.Timestamptz{Time: holdUntil, Valid: true},
		}
		if redeemed != nil {
			params.PromoCode = pgtype.Text{String: redeemed.Code, Valid: true}
		}
		created, err = q.CreateOrder(ctx, params)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for i, row := range rows {
			item := dbgen.CreateOrderItemParams{
				OrderID:        orderID,
				ListingID:      row.ListingID,
				Title:          row.Title,
				UnitPriceCents: pricing.ToCents(priced[i].UnitPrice),
				Quantity:       row.Quantity,
				IsBulk:         row.DeliveryCategory == dbgen.DeliveryCategoryBulk,
			}
			if err := q.CreateOrderItem(ctx, item); err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
			items = append(items, dbgen.OrderItem{
				OrderID:        item.OrderID,
				ListingID:      item.ListingID,
				Title:          item.Title,
				UnitPriceCents: item.UnitPriceCents,
				Quantity:       item.Quantity,
				IsBulk:         item.IsBulk,
			})
			n, err := q.HoldListing(ctx, dbgen.HoldListingParams{
				ID:        row.ListingID,
				OrderID:   orderID,
				HeldUntil: pgtype.Timestamptz{Time: holdUntil, Valid: true},
				Now:       pgtype.Timestamptz{Time: now, Valid: true},
			})
			if err != nil {
				return fmt.Errorf("hold listing: %w", err)
			}
			if n == 0 {
				return unavailableErr([]string{priced[i].ListingID})
			}
		}

		if err := q.ClearCart(ctx, c.ID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		bus := s.Events.WithStore(q)
		record := func(topic string, aggregate pgtype.UUID, payload any) error {
			ev, err := bus.Record(ctx, topic, aggregate, payload)
			if err != nil {
				return err
			}
			emitted = append(emitted, ev)
			return nil
		}
		if err := record(events.TopicOrderCreated, orderID, map[string]any{
			"orderId":        owner,
			"userId":         userID,
			"deliveryMethod": method,
			"total":          totals.Total.StringFixed(2),
			"currency":       params.Currency,
			"listingIds":     ids,
		}); err != nil {
			return err
		}
		if redeemed != nil {
			if err := record(events.TopicPromoRedeemed, orderID, map[string]any{
				"orderId":  owner,
				"code":     redeemed.Code,
				"type":     redeemed.Type,
				"discount": totals.Discount.StringFixed(2),
			}); err != nil {
				return err
			}
		}
		for _, row := range rows {
			if err := record(events.TopicListingHeld, row.ListingID, map[string]any{
				"listingId": common.UUIDString(row.ListingID),
				"orderId":   owner,
				"heldUntil": holdUntil,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if len(heldIDs) > 0 {
			if _, relErr := s.Holds.Release(context.WithoutCancel(ctx), owner, heldIDs...); relErr != nil {
				s.Log.Warn().Err(relErr).Str("order_id", owner).Msg("release listing holds after failed checkout")
			}
		}
		obs.ObserveCheckout(outcome(err))
		return order.View{}, err
	}

	for _, ev := range emitted {
		if err := s.Events.Publish(ctx, ev); err != nil {
			s.Log.Warn().Err(err).Str("topic", ev.Topic).Msg("publish checkout event")
		}
	}
	if s.Cache != nil {
		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, common.UUIDString(it.ListingID))
		}
		if err := s.Cache.Invalidate(ctx, ids...); err != nil {
			s.Log.Warn().Err(err).Str("order_id", owner).Msg("invalidate listing cache")
		}
	}
	obs.ObserveCheckout("created")
	obs.ObserveOrderTotal(pricing.Float(pricing.FromCents(created.TotalCents)))
	s.Log.Info().
		Str("order_id", owner).
		Str("user_id", userID).
		Int64("total_cents", created.TotalCents).
		Msg("order_created")
	return order.NewView(created, items), nil
}

func cartEmpty() error {
	return common.NewAppError("CART_EMPTY", "cart is empty", http.StatusBadRequest, ErrCartEmpty)
}

func unavailableErr(ids []string) error {
	obs.IncHoldConflicts()
	return common.NewAppError("LISTING_UNAVAILABLE", "one or more listings are no longer available", http.StatusConflict, ErrListingUnavailable).
		WithDetails(map[string]any{"listingIds": ids})
}

func outcome(err error) string {
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		return "error"
	}
	switch appErr.Code {
	case "CART_EMPTY":
		return "empty"
	case "LISTING_UNAVAILABLE":
		return "unavailable"
	case "PROMO_INVALID":
		return "promo_rejected"
	}
	return "rejected"
}
