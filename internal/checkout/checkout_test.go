package checkout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/treasurehub/treasurehub-api/internal/catalog"
	"github.com/treasurehub/treasurehub-api/internal/checkout"
	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/db"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/events"
	"github.com/treasurehub/treasurehub-api/internal/lock"
	"github.com/treasurehub/treasurehub-api/internal/order"
	"github.com/treasurehub/treasurehub-api/internal/promo"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type cartLine struct {
	listing  pgtype.UUID
	quantity int32
}

// state is everything a checkout transaction can touch; Tx restores it on
// error to mimic a rollback.
type state struct {
	cart     dbgen.Cart
	lines    []cartLine
	listings map[[16]byte]dbgen.Listing
	promos   map[string]dbgen.PromoCode
	orders   []dbgen.Order
	items    []dbgen.CreateOrderItemParams
	events   []dbgen.InsertDomainEventParams
}

func (s state) clone() state {
	c := s
	c.lines = append([]cartLine(nil), s.lines...)
	c.listings = make(map[[16]byte]dbgen.Listing, len(s.listings))
	for k, v := range s.listings {
		c.listings[k] = v
	}
	c.promos = make(map[string]dbgen.PromoCode, len(s.promos))
	for k, v := range s.promos {
		c.promos[k] = v
	}
	c.orders = append([]dbgen.Order(nil), s.orders...)
	c.items = append([]dbgen.CreateOrderItemParams(nil), s.items...)
	c.events = append([]dbgen.InsertDomainEventParams(nil), s.events...)
	return c
}

type memQueries struct {
	st         state
	hasCart    bool
	refuseHold pgtype.UUID
}

func (m *memQueries) InTx(_ context.Context, fn func(checkout.Querier) error) error {
	saved := m.st.clone()
	if err := fn(m); err != nil {
		m.st = saved
		return err
	}
	return nil
}

func (m *memQueries) GetCartByUserForUpdate(_ context.Context, userID pgtype.UUID) (dbgen.Cart, error) {
	if !m.hasCart || m.st.cart.UserID != userID {
		return dbgen.Cart{}, pgx.ErrNoRows
	}
	return m.st.cart, nil
}

func (m *memQueries) ListCartLines(_ context.Context, cartID pgtype.UUID) ([]dbgen.ListCartLinesRow, error) {
	var rows []dbgen.ListCartLinesRow
	for _, line := range m.st.lines {
		l := m.st.listings[line.listing.Bytes]
		rows = append(rows, dbgen.ListCartLinesRow{
			ListingID:         l.ID,
			Quantity:          line.quantity,
			Title:             l.Title,
			PriceCents:        l.PriceCents,
			ReservePriceCents: l.ReservePriceCents,
			DiscountSchedule:  l.DiscountSchedule,
			DeliveryCategory:  l.DeliveryCategory,
			Status:            l.Status,
			HeldUntil:         l.HeldUntil,
			CreatedAt:         l.CreatedAt,
		})
	}
	return rows, nil
}

func (m *memQueries) CreateOrder(_ context.Context, arg dbgen.CreateOrderParams) (dbgen.Order, error) {
	o := dbgen.Order{
		ID:                 arg.ID,
		UserID:             arg.UserID,
		Status:             dbgen.OrderStatusPending,
		DeliveryMethod:     arg.DeliveryMethod,
		Currency:           arg.Currency,
		SubtotalCents:      arg.SubtotalCents,
		DeliveryFeeCents:   arg.DeliveryFeeCents,
		TaxAmountCents:     arg.TaxAmountCents,
		TaxRate:            arg.TaxRate,
		PromoCode:          arg.PromoCode,
		PromoDiscountCents: arg.PromoDiscountCents,
		TotalCents:         arg.TotalCents,
		HoldExpiresAt:      arg.HoldExpiresAt,
		CreatedAt:          pgtype.Timestamptz{Time: now, Valid: true},
	}
	m.st.orders = append(m.st.orders, o)
	return o, nil
}

func (m *memQueries) CreateOrderItem(_ context.Context, arg dbgen.CreateOrderItemParams) error {
	m.st.items = append(m.st.items, arg)
	return nil
}

func (m *memQueries) HoldListing(_ context.Context, arg dbgen.HoldListingParams) (int64, error) {
	l, ok := m.st.listings[arg.ID.Bytes]
	if !ok || arg.ID == m.refuseHold {
		return 0, nil
	}
	free := l.Status == dbgen.ListingStatusActive ||
		(l.Status == dbgen.ListingStatusHeld && !l.HeldUntil.Time.After(arg.Now.Time))
	if !free {
		return 0, nil
	}
	l.Status = dbgen.ListingStatusHeld
	l.HeldUntil = arg.HeldUntil
	l.HeldByOrder = arg.OrderID
	m.st.listings[arg.ID.Bytes] = l
	return 1, nil
}

func (m *memQueries) ClearCart(_ context.Context, _ pgtype.UUID) error {
	m.st.lines = nil
	return nil
}

func (m *memQueries) InsertDomainEvent(_ context.Context, arg dbgen.InsertDomainEventParams) (dbgen.DomainEvent, error) {
	m.st.events = append(m.st.events, arg)
	return dbgen.DomainEvent{ID: common.NewUUID(), Topic: arg.Topic, AggregateID: arg.AggregateID, Payload: arg.Payload}, nil
}

func (m *memQueries) GetPromoCodeByCode(_ context.Context, code string) (dbgen.PromoCode, error) {
	p, ok := m.st.promos[code]
	if !ok {
		return dbgen.PromoCode{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *memQueries) RedeemPromoCode(_ context.Context, arg dbgen.RedeemPromoCodeParams) (dbgen.PromoCode, error) {
	p, ok := m.st.promos[arg.Code]
	if !ok || promo.CodeFromModel(p).Check(arg.Now.Time) != promo.ReasonNone {
		return dbgen.PromoCode{}, pgx.ErrNoRows
	}
	p.UsageCount++
	m.st.promos[arg.Code] = p
	return p, nil
}

type fixture struct {
	mem     *memQueries
	svc     *checkout.Service
	mr      *miniredis.Miniredis
	user    pgtype.UUID
	lamp    pgtype.UUID
	dresser pgtype.UUID
}

func listing(title string, cents int64, schedule string, age time.Duration) dbgen.Listing {
	l := dbgen.Listing{
		ID:               common.NewUUID(),
		Title:            title,
		PriceCents:       cents,
		DeliveryCategory: dbgen.DeliveryCategoryNormal,
		Status:           dbgen.ListingStatusActive,
		CreatedAt:        pgtype.Timestamptz{Time: now.Add(-age), Valid: true},
	}
	if schedule != "" {
		l.DiscountSchedule = pgtype.Text{String: schedule, Valid: true}
	}
	return l
}

func promoRow(code string, kind dbgen.PromoType, value string, limit int32) dbgen.PromoCode {
	p := dbgen.PromoCode{
		ID:       common.NewUUID(),
		Code:     code,
		Type:     kind,
		Value:    db.NumericFromDecimal(decimal.RequireFromString(value)),
		IsActive: true,
	}
	if limit > 0 {
		p.UsageLimit = pgtype.Int4{Int32: limit, Valid: true}
	}
	return p
}

// newFixture builds a cart holding a 30.00 lamp and a Turbo-30 dresser
// listed at 100.00 fifteen days ago (70.00 today).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	lamp := listing("Brass lamp", 3000, "", 2*time.Hour)
	dresser := listing("Oak dresser", 10000, "Turbo-30", 15*24*time.Hour)
	user := common.NewUUID()
	mem := &memQueries{
		hasCart: true,
		st: state{
			cart:  dbgen.Cart{ID: common.NewUUID(), UserID: user, DeliveryMethod: "delivery"},
			lines: []cartLine{{listing: lamp.ID, quantity: 1}, {listing: dresser.ID, quantity: 1}},
			listings: map[[16]byte]dbgen.Listing{
				lamp.ID.Bytes:    lamp,
				dresser.ID.Bytes: dresser,
			},
			promos: map[string]dbgen.PromoCode{
				"TWENTYOFF": promoRow("TWENTYOFF", dbgen.PromoTypeFixedAmount, "20", 1),
				"SHIPFREE":  promoRow("SHIPFREE", dbgen.PromoTypeFreeShipping, "0", 0),
			},
		},
	}
	clock := func() time.Time { return now }
	svc := &checkout.Service{
		Tx:       mem,
		Promo:    &promo.Service{Now: clock},
		Holds:    lock.Holder{R: rdb, TTL: 15 * time.Minute},
		Events:   &events.Bus{},
		Currency: "USD",
		HoldTTL:  15 * time.Minute,
		Now:      clock,
	}
	return &fixture{mem: mem, svc: svc, mr: mr, user: user, lamp: lamp.ID, dresser: dresser.ID}
}

func (f *fixture) attach(code string) {
	f.mem.st.cart.PromoCode = pgtype.Text{String: code, Valid: true}
}

func (f *fixture) checkout(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	}
	req = req.WithContext(common.WithUserID(req.Context(), common.UUIDString(f.user)))
	rec := httptest.NewRecorder()
	(&checkout.Handler{Svc: f.svc}).Checkout(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) order.View {
	t.Helper()
	var resp struct {
		Data order.View `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func topics(evs []dbgen.InsertDomainEventParams) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Topic)
	}
	return out
}

func TestCheckoutFreezesTotalsAndHoldsListings(t *testing.T) {
	f := newFixture(t)

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, rec)

	require.Equal(t, "PENDING", view.Status)
	require.Equal(t, "delivery", view.DeliveryMethod)
	require.Equal(t, 100.0, view.Subtotal)
	require.Equal(t, 50.0, view.DeliveryFee)
	require.Equal(t, 8.25, view.Tax)
	require.Equal(t, 0.0825, view.TaxRate)
	require.Zero(t, view.Discount)
	require.Equal(t, 158.25, view.Total)
	require.Len(t, view.Items, 2)
	require.Equal(t, 70.0, view.Items[1].UnitPrice)
	require.NotNil(t, view.HoldExpiresAt)
	require.True(t, view.HoldExpiresAt.Equal(now.Add(15*time.Minute)))

	st := f.mem.st
	require.Len(t, st.orders, 1)
	require.Empty(t, st.lines)
	for _, l := range st.listings {
		require.Equal(t, dbgen.ListingStatusHeld, l.Status)
		require.Equal(t, st.orders[0].ID, l.HeldByOrder)
	}
	require.Equal(t, []string{events.TopicOrderCreated, events.TopicListingHeld, events.TopicListingHeld}, topics(st.events))

	owner, err := f.mr.Get("hold:listing:" + common.UUIDString(f.lamp))
	require.NoError(t, err)
	require.Equal(t, view.ID, owner)
}

func TestCheckoutPickupOverride(t *testing.T) {
	f := newFixture(t)

	rec := f.checkout(t, `{"deliveryMethod":"pickup"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	require.Equal(t, "pickup", view.DeliveryMethod)
	require.Zero(t, view.DeliveryFee)
	require.Equal(t, 108.25, view.Total)

	rec = newFixture(t).checkout(t, `{"deliveryMethod":"drone"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_DELIVERY_METHOD")
}

func TestCheckoutRedeemsPromoOnce(t *testing.T) {
	f := newFixture(t)
	f.attach("TWENTYOFF")

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	require.Equal(t, "TWENTYOFF", view.PromoCode)
	require.Equal(t, 20.0, view.Discount)
	require.Equal(t, 138.25, view.Total)
	require.EqualValues(t, 1, f.mem.st.promos["TWENTYOFF"].UsageCount)
	require.Contains(t, topics(f.mem.st.events), events.TopicPromoRedeemed)

	// The limit is now reached; a second buyer is rejected and nothing is written.
	g := newFixture(t)
	g.mem.st.promos["TWENTYOFF"] = f.mem.st.promos["TWENTYOFF"]
	g.attach("TWENTYOFF")
	rec = g.checkout(t, "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "PROMO_INVALID")
	require.Contains(t, rec.Body.String(), string(promo.ReasonLimitReached))
	require.Empty(t, g.mem.st.orders)
	require.Len(t, g.mem.st.lines, 2)
	require.EqualValues(t, 1, g.mem.st.promos["TWENTYOFF"].UsageCount)
	require.Empty(t, g.mr.Keys())
}

func TestCheckoutFreeShippingDiscountsDeliveryFee(t *testing.T) {
	f := newFixture(t)
	f.attach("SHIPFREE")

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decodeView(t, rec)
	require.Equal(t, 50.0, view.DeliveryFee)
	require.Equal(t, 50.0, view.Discount)
	require.Equal(t, 108.25, view.Total)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.mem.st.lines = nil
	rec := f.checkout(t, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "CART_EMPTY")

	f.mem.hasCart = false
	rec = f.checkout(t, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutRejectsSoldListing(t *testing.T) {
	f := newFixture(t)
	l := f.mem.st.listings[f.dresser.Bytes]
	l.Status = dbgen.ListingStatusSold
	f.mem.st.listings[f.dresser.Bytes] = l
	f.attach("TWENTYOFF")

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), common.UUIDString(f.dresser))
	require.Zero(t, f.mem.st.promos["TWENTYOFF"].UsageCount)
	require.Empty(t, f.mem.st.orders)
}

func TestCheckoutRejectsListingHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	f.attach("TWENTYOFF")
	require.NoError(t, f.mr.Set("hold:listing:"+common.UUIDString(f.dresser), uuid.NewString()))

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "LISTING_UNAVAILABLE")
	require.Zero(t, f.mem.st.promos["TWENTYOFF"].UsageCount)
	require.Empty(t, f.mem.st.orders)
	require.False(t, f.mr.Exists("hold:listing:"+common.UUIDString(f.lamp)))
}

func TestCheckoutReleasesRedisHoldsWhenDatabaseHoldFails(t *testing.T) {
	f := newFixture(t)
	f.attach("SHIPFREE")
	f.mem.refuseHold = f.lamp

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), common.UUIDString(f.lamp))
	require.Empty(t, f.mem.st.orders)
	require.Len(t, f.mem.st.lines, 2)
	require.Zero(t, f.mem.st.promos["SHIPFREE"].UsageCount)
	require.Empty(t, f.mr.Keys())
}

func TestCheckoutRequiresUser(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	(&checkout.Handler{Svc: f.svc}).Checkout(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutInvalidatesCachedListings(t *testing.T) {
	f := newFixture(t)
	rdb := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.svc.Cache = catalog.NewCache(rdb, time.Minute)
	lampKey := "catalog:listing:" + common.UUIDString(f.lamp)
	dresserKey := "catalog:listing:" + common.UUIDString(f.dresser)
	require.NoError(t, f.mr.Set(lampKey, `{"status":"ACTIVE"}`))
	require.NoError(t, f.mr.Set(dresserKey, `{"status":"ACTIVE"}`))

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.False(t, f.mr.Exists(lampKey))
	require.False(t, f.mr.Exists(dresserKey))
	version, err := f.mr.Get("catalog:version")
	require.NoError(t, err)
	require.Equal(t, "1", version)
}

func TestCheckoutFailureKeepsListingCache(t *testing.T) {
	f := newFixture(t)
	rdb := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	f.svc.Cache = catalog.NewCache(rdb, time.Minute)
	lampKey := "catalog:listing:" + common.UUIDString(f.lamp)
	require.NoError(t, f.mr.Set(lampKey, `{"status":"ACTIVE"}`))
	require.NoError(t, f.mr.Set("hold:listing:"+common.UUIDString(f.dresser), uuid.NewString()))

	rec := f.checkout(t, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.True(t, f.mr.Exists(lampKey))
	require.False(t, f.mr.Exists("catalog:version"))
}
