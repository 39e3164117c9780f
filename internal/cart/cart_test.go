package cart_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/treasurehub/treasurehub-api/internal/cart"
	"github.com/treasurehub/treasurehub-api/internal/common"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/promo"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeQueries struct {
	carts    map[[16]byte]*dbgen.Cart
	items    map[[16]byte][]dbgen.CartItem
	listings map[[16]byte]dbgen.Listing
}

func newFakeQueries() *fakeQueries {
	return &fakeQueries{
		carts:    map[[16]byte]*dbgen.Cart{},
		items:    map[[16]byte][]dbgen.CartItem{},
		listings: map[[16]byte]dbgen.Listing{},
	}
}

func pgUUID() pgtype.UUID { return pgtype.UUID{Bytes: uuid.New(), Valid: true} }

func (f *fakeQueries) listing(title string, cents int64, category dbgen.DeliveryCategory, status dbgen.ListingStatus) string {
	row := dbgen.Listing{
		ID:                pgUUID(),
		Title:             title,
		PriceCents:        cents,
		CurrentPriceCents: cents,
		DeliveryCategory:  category,
		Status:            status,
		CreatedAt:         pgtype.Timestamptz{Time: now.Add(-time.Hour), Valid: true},
	}
	f.listings[row.ID.Bytes] = row
	return common.UUIDString(row.ID)
}

func (f *fakeQueries) EnsureCart(_ context.Context, userID pgtype.UUID) (dbgen.Cart, error) {
	for _, c := range f.carts {
		if c.UserID == userID {
			return *c, nil
		}
	}
	c := &dbgen.Cart{ID: pgUUID(), UserID: userID, DeliveryMethod: "delivery"}
	f.carts[c.ID.Bytes] = c
	return *c, nil
}

func (f *fakeQueries) SetCartDeliveryMethod(_ context.Context, arg dbgen.SetCartDeliveryMethodParams) (dbgen.Cart, error) {
	c := f.carts[arg.ID.Bytes]
	c.DeliveryMethod = arg.DeliveryMethod
	return *c, nil
}

func (f *fakeQueries) SetCartPromoCode(_ context.Context, arg dbgen.SetCartPromoCodeParams) (dbgen.Cart, error) {
	c := f.carts[arg.ID.Bytes]
	c.PromoCode = arg.PromoCode
	return *c, nil
}

func (f *fakeQueries) UpsertCartItem(_ context.Context, arg dbgen.UpsertCartItemParams) (dbgen.CartItem, error) {
	items := f.items[arg.CartID.Bytes]
	for i := range items {
		if items[i].ListingID == arg.ListingID {
			items[i].Quantity = arg.Quantity
			return items[i], nil
		}
	}
	item := dbgen.CartItem{ID: pgUUID(), CartID: arg.CartID, ListingID: arg.ListingID, Quantity: arg.Quantity}
	f.items[arg.CartID.Bytes] = append(items, item)
	return item, nil
}

func (f *fakeQueries) DeleteCartItem(_ context.Context, arg dbgen.DeleteCartItemParams) (int64, error) {
	items := f.items[arg.CartID.Bytes]
	for i := range items {
		if items[i].ListingID == arg.ListingID {
			f.items[arg.CartID.Bytes] = append(items[:i], items[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeQueries) ClearCart(_ context.Context, cartID pgtype.UUID) error {
	delete(f.items, cartID.Bytes)
	f.carts[cartID.Bytes].PromoCode = pgtype.Text{}
	return nil
}

func (f *fakeQueries) ListCartLines(_ context.Context, cartID pgtype.UUID) ([]dbgen.ListCartLinesRow, error) {
	var rows []dbgen.ListCartLinesRow
	for _, item := range f.items[cartID.Bytes] {
		l := f.listings[item.ListingID.Bytes]
		rows = append(rows, dbgen.ListCartLinesRow{
			ListingID:         l.ID,
			Quantity:          item.Quantity,
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

func (f *fakeQueries) GetListing(_ context.Context, id pgtype.UUID) (dbgen.Listing, error) {
	l, ok := f.listings[id.Bytes]
	if !ok {
		return dbgen.Listing{}, pgx.ErrNoRows
	}
	return l, nil
}

type codeBook map[string]promo.Code

func (b codeBook) Validate(_ context.Context, code string, total decimal.Decimal) (promo.Result, error) {
	c, ok := b[promo.Normalize(code)]
	if !ok {
		res := promo.Validate(nil, total, now)
		res.Code = promo.Normalize(code)
		return res, nil
	}
	return promo.Validate(&c, total, now), nil
}

func newService(q *fakeQueries) *cart.Service {
	return &cart.Service{
		Q: q,
		Promo: codeBook{
			"SAVE20":   {Code: "SAVE20", Type: promo.TypePercentage, Value: decimal.NewFromInt(20), IsActive: true},
			"SHIPFREE": {Code: "SHIPFREE", Type: promo.TypeFreeShipping, IsActive: true},
			"OLD":      {Code: "OLD", Type: promo.TypeFixedAmount, Value: decimal.NewFromInt(5), IsActive: false},
		},
		Now: func() time.Time { return now },
	}
}

type quoteResponse struct {
	Data struct {
		DeliveryMethod string `json:"deliveryMethod"`
		PromoCode      string `json:"promoCode"`
		Items          []struct {
			ListingID string  `json:"listingId"`
			UnitPrice float64 `json:"unitPrice"`
			Quantity  int     `json:"quantity"`
			LineTotal float64 `json:"lineTotal"`
			Available bool    `json:"available"`
		} `json:"items"`
		Totals cart.TotalsView `json:"totals"`
		Promo  *promo.Result   `json:"promo"`
	} `json:"data"`
}

func authed(req *http.Request, userID string) *http.Request {
	return req.WithContext(common.WithUserID(req.Context(), userID))
}

func do(t *testing.T, h http.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, quoteResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, req)
	var resp quoteResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestCartRequiresUser(t *testing.T) {
	h := &cart.Handler{Svc: newService(newFakeQueries())}
	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCartAddItemAndQuote(t *testing.T) {
	q := newFakeQueries()
	lamp := q.listing("Lamp", 4000, dbgen.DeliveryCategoryNormal, dbgen.ListingStatusActive)
	sofa := q.listing("Sofa", 12000, dbgen.DeliveryCategoryBulk, dbgen.ListingStatusActive)
	h := &cart.Handler{Svc: newService(q)}
	user := uuid.NewString()

	rec, resp := do(t, h.AddItem, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"listingId":"`+lamp+`"}`)), user))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, resp.Data.Items, 1)
	require.Equal(t, 1, resp.Data.Items[0].Quantity)
	require.Equal(t, 40.0, resp.Data.Totals.Subtotal)
	require.Equal(t, 50.0, resp.Data.Totals.DeliveryFee)
	require.Equal(t, 3.3, resp.Data.Totals.Tax)
	require.Equal(t, 93.3, resp.Data.Totals.Total)

	rec, resp = do(t, h.AddItem, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"listingId":"`+sofa+`","quantity":1}`)), user))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.Data.Items, 2)
	require.Equal(t, 160.0, resp.Data.Totals.Subtotal)
	require.Equal(t, 50.0, resp.Data.Totals.DeliveryFee)
	require.True(t, resp.Data.Totals.HasBulkItems)
	require.True(t, resp.Data.Totals.HasNormalItems)

	rec, resp = do(t, h.Quote, authed(httptest.NewRequest(http.MethodGet, "/api/v1/cart/quote?deliveryMethod=pickup", nil), user))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pickup", resp.Data.DeliveryMethod)
	require.Zero(t, resp.Data.Totals.DeliveryFee)
	require.Equal(t, 13.2, resp.Data.Totals.Tax)
	require.Equal(t, 173.2, resp.Data.Totals.Total)

	rec, _ = do(t, h.Quote, authed(httptest.NewRequest(http.MethodGet, "/api/v1/cart/quote?deliveryMethod=drone", nil), user))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartRejectsUnavailableListing(t *testing.T) {
	q := newFakeQueries()
	sold := q.listing("Chair", 3000, dbgen.DeliveryCategoryNormal, dbgen.ListingStatusSold)
	h := &cart.Handler{Svc: newService(q)}
	user := uuid.NewString()

	rec, _ := do(t, h.AddItem, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"listingId":"`+sold+`"}`)), user))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "LISTING_UNAVAILABLE")

	rec, _ = do(t, h.AddItem, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"listingId":"`+uuid.NewString()+`"}`)), user))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h.AddItem, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"listingId":"nope"}`)), user))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")

	rec, _ = do(t, h.AddItem, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"listingId":"`+sold+`","quantity":100}`)), user))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartRejectsQuantityAboveOne(t *testing.T) {
	q := newFakeQueries()
	lamp := q.listing("Lamp", 4000, dbgen.DeliveryCategoryNormal, dbgen.ListingStatusActive)
	svc := newService(q)
	h := &cart.Handler{Svc: svc}
	user := uuid.NewString()

	rec, _ := do(t, h.AddItem, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"listingId":"`+lamp+`","quantity":2}`)), user))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_FAILED")

	err := svc.AddItem(context.Background(), user, lamp, 2)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "INVALID_QUANTITY", appErr.Code)

	rec, resp := do(t, h.Get, authed(httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil), user))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, resp.Data.Items)
}

func TestCartHeldListingBecomesAvailableAfterExpiry(t *testing.T) {
	require.False(t, cart.Available(dbgen.ListingStatusHeld, now.Add(time.Minute), now))
	require.True(t, cart.Available(dbgen.ListingStatusHeld, now.Add(-time.Minute), now))
	require.False(t, cart.Available(dbgen.ListingStatusHeld, time.Time{}, now))
	require.False(t, cart.Available(dbgen.ListingStatusArchived, time.Time{}, now))
}

func TestCartRemoveItem(t *testing.T) {
	q := newFakeQueries()
	lamp := q.listing("Lamp", 4000, dbgen.DeliveryCategoryNormal, dbgen.ListingStatusActive)
	h := &cart.Handler{Svc: newService(q)}
	user := uuid.NewString()
	ctx := context.Background()
	require.NoError(t, h.Svc.AddItem(ctx, user, lamp, 1))

	route := func(id string) *http.Request {
		req := authed(httptest.NewRequest(http.MethodDelete, "/api/v1/cart/items/"+id, nil), user)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("listingId", id)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	rec, resp := do(t, h.RemoveItem, route(lamp))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, resp.Data.Items)
	require.Zero(t, resp.Data.Totals.Total)

	rec, _ = do(t, h.RemoveItem, route(lamp))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartPromoAttachment(t *testing.T) {
	q := newFakeQueries()
	lamp := q.listing("Lamp", 4000, dbgen.DeliveryCategoryNormal, dbgen.ListingStatusActive)
	svc := newService(q)
	h := &cart.Handler{Svc: svc}
	user := uuid.NewString()
	require.NoError(t, svc.AddItem(context.Background(), user, lamp, 1))

	rec, _ := do(t, h.AttachPromo, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/promo", strings.NewReader(`{"code":"old"}`)), user))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"reason":"inactive"`)

	rec, _ = do(t, h.AttachPromo, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/promo", strings.NewReader(`{"code":"ghost"}`)), user))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid promo code")

	rec, resp := do(t, h.AttachPromo, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/promo", strings.NewReader(`{"code":" shipfree "}`)), user))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "SHIPFREE", resp.Data.PromoCode)
	require.Equal(t, 50.0, resp.Data.Totals.Discount)
	require.Equal(t, 43.3, resp.Data.Totals.Total)

	rec, resp = do(t, h.SetDeliveryMethod, authed(httptest.NewRequest(http.MethodPut, "/api/v1/cart/delivery-method", strings.NewReader(`{"deliveryMethod":"pickup"}`)), user))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pickup", resp.Data.DeliveryMethod)
	require.Zero(t, resp.Data.Totals.Discount)
	require.Equal(t, 43.3, resp.Data.Totals.Total)

	rec, resp = do(t, h.AttachPromo, authed(httptest.NewRequest(http.MethodPost, "/api/v1/cart/promo", strings.NewReader(`{"code":"SAVE20"}`)), user))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 8.66, resp.Data.Totals.Discount)
	require.Equal(t, 34.64, resp.Data.Totals.Total)

	rec, resp = do(t, h.DetachPromo, authed(httptest.NewRequest(http.MethodDelete, "/api/v1/cart/promo", nil), user))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, resp.Data.PromoCode)
	require.Nil(t, resp.Data.Promo)
	require.Equal(t, 43.3, resp.Data.Totals.Total)
}

func TestCartSetDeliveryMethodValidation(t *testing.T) {
	h := &cart.Handler{Svc: newService(newFakeQueries())}
	rec, _ := do(t, h.SetDeliveryMethod, authed(httptest.NewRequest(http.MethodPut, "/api/v1/cart/delivery-method", strings.NewReader(`{"deliveryMethod":"teleport"}`)), uuid.NewString()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartClear(t *testing.T) {
	q := newFakeQueries()
	lamp := q.listing("Lamp", 4000, dbgen.DeliveryCategoryNormal, dbgen.ListingStatusActive)
	svc := newService(q)
	user := uuid.NewString()
	ctx := context.Background()
	require.NoError(t, svc.AddItem(ctx, user, lamp, 2))
	_, err := svc.AttachPromo(ctx, user, "SAVE20")
	require.NoError(t, err)

	h := &cart.Handler{Svc: svc}
	rec := httptest.NewRecorder()
	h.Clear(rec, authed(httptest.NewRequest(http.MethodDelete, "/api/v1/cart", nil), user))
	require.Equal(t, http.StatusNoContent, rec.Code)

	quote, code, err := svc.Quote(ctx, user, "")
	require.NoError(t, err)
	require.Empty(t, code)
	require.Empty(t, quote.Lines)
}
