package cart

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

	"github.com/treasurehub/treasurehub-api/internal/common"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
	"github.com/treasurehub/treasurehub-api/internal/promo"
)

// MaxQuantity bounds a single cart line. Each listing is a single physical item.
const MaxQuantity = 1

var (
	// ErrNotFound indicates the requested cart line could not be located.
	ErrNotFound = errors.New("cart item not found")
	// ErrUnavailable is returned when a listing cannot be added to a cart.
	ErrUnavailable = errors.New("listing unavailable")
)

// Querier captures the database methods required by the cart service.
type Querier interface {
	EnsureCart(ctx context.Context, userID pgtype.UUID) (dbgen.Cart, error)
	SetCartDeliveryMethod(ctx context.Context, arg dbgen.SetCartDeliveryMethodParams) (dbgen.Cart, error)
	SetCartPromoCode(ctx context.Context, arg dbgen.SetCartPromoCodeParams) (dbgen.Cart, error)
	UpsertCartItem(ctx context.Context, arg dbgen.UpsertCartItemParams) (dbgen.CartItem, error)
	DeleteCartItem(ctx context.Context, arg dbgen.DeleteCartItemParams) (int64, error)
	ClearCart(ctx context.Context, cartID pgtype.UUID) error
	ListCartLines(ctx context.Context, cartID pgtype.UUID) ([]dbgen.ListCartLinesRow, error)
	GetListing(ctx context.Context, id pgtype.UUID) (dbgen.Listing, error)
}

// PromoValidator checks a code without consuming it.
type PromoValidator interface {
	Validate(ctx context.Context, code string, orderTotal decimal.Decimal) (promo.Result, error)
}

// Service encapsulates cart domain operations. Every user owns exactly one
// cart, created on first use.
type Service struct {
	Q     Querier
	Promo PromoValidator
	Rates pricing.Rates
	Now   func() time.Time
	Log   zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
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

func (s *Service) ensure(ctx context.Context, userID string) (dbgen.Cart, error) {
	if s == nil || s.Q == nil {
		return dbgen.Cart{}, errors.New("cart service not configured")
	}
	uid, err := common.ToUUID(userID)
	if err != nil {
		return dbgen.Cart{}, common.Unauthorized("invalid user")
	}
	return s.Q.EnsureCart(ctx, uid)
}

// AddItem puts a listing in the user's cart or replaces its quantity.
func (s *Service) AddItem(ctx context.Context, userID, listingID string, qty int) error {
	if qty < 1 || qty > MaxQuantity {
		return common.BadRequest("INVALID_QUANTITY", fmt.Sprintf("quantity must be between 1 and %d", MaxQuantity))
	}
	lid, err := common.ToUUID(listingID)
	if err != nil {
		return common.BadRequest("BAD_REQUEST", "listingId must be a uuid")
	}
	c, err := s.ensure(ctx, userID)
	if err != nil {
		return err
	}
	listing, err := s.Q.GetListing(ctx, lid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return common.NotFound("NOT_FOUND", "listing not found")
		}
		return err
	}
	if !Available(listing.Status, listing.HeldUntil.Time, s.now()) {
		return common.NewAppError("LISTING_UNAVAILABLE", "listing is no longer available", http.StatusConflict, ErrUnavailable).
			WithDetails(map[string]any{"listingId": listingID, "status": listing.Status})
	}
	_, err = s.Q.UpsertCartItem(ctx, dbgen.UpsertCartItemParams{CartID: c.ID, ListingID: lid, Quantity: int32(qty)})
	return err
}

// RemoveItem deletes a listing from the user's cart.
func (s *Service) RemoveItem(ctx context.Context, userID, listingID string) error {
	lid, err := common.ToUUID(listingID)
	if err != nil {
		return common.BadRequest("BAD_REQUEST", "listing id must be a uuid")
	}
	c, err := s.ensure(ctx, userID)
	if err != nil {
		return err
	}
	n, err := s.Q.DeleteCartItem(ctx, dbgen.DeleteCartItemParams{CartID: c.ID, ListingID: lid})
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NewAppError("NOT_FOUND", "item not in cart", http.StatusNotFound, ErrNotFound)
	}
	return nil
}

// Clear empties the cart and detaches its promo code.
func (s *Service) Clear(ctx context.Context, userID string) error {
	c, err := s.ensure(ctx, userID)
	if err != nil {
		return err
	}
	return s.Q.ClearCart(ctx, c.ID)
}

// SetDeliveryMethod stores the buyer's delivery choice.
func (s *Service) SetDeliveryMethod(ctx context.Context, userID, method string) error {
	m, ok := pricing.ParseDeliveryMethod(method)
	if !ok {
		return common.BadRequest("INVALID_DELIVERY_METHOD", "deliveryMethod must be delivery or pickup")
	}
	c, err := s.ensure(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.Q.SetCartDeliveryMethod(ctx, dbgen.SetCartDeliveryMethodParams{ID: c.ID, DeliveryMethod: string(m)})
	return err
}

// AttachPromo validates code against the current cart and stores it. The
// code is not redeemed until checkout.
func (s *Service) AttachPromo(ctx context.Context, userID, code string) (Quote, error) {
	if s.Promo == nil {
		return Quote{}, errors.New("promo validator not configured")
	}
	c, err := s.ensure(ctx, userID)
	if err != nil {
		return Quote{}, err
	}
	q, err := s.quote(ctx, c, "")
	if err != nil {
		return Quote{}, err
	}
	res, err := s.Promo.Validate(ctx, code, q.Totals.Total)
	if err != nil {
		return Quote{}, err
	}
	if !res.Valid {
		return Quote{}, common.NewAppError("PROMO_INVALID", res.Message, http.StatusUnprocessableEntity, nil).
			WithDetails(map[string]any{"code": res.Code, "reason": res.Reason})
	}
	if _, err := s.Q.SetCartPromoCode(ctx, dbgen.SetCartPromoCodeParams{
		ID:        c.ID,
		PromoCode: pgtype.Text{String: res.Code, Valid: true},
	}); err != nil {
		return Quote{}, err
	}
	q.Promo = &res
	q.Totals = ApplyPromo(q.Totals, &res)
	return q, nil
}

// DetachPromo removes any promo code from the cart.
func (s *Service) DetachPromo(ctx context.Context, userID string) error {
	c, err := s.ensure(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.Q.SetCartPromoCode(ctx, dbgen.SetCartPromoCodeParams{ID: c.ID})
	return err
}

// Quote prices the cart. An empty method uses the delivery method stored on
// the cart. The attached promo is validated but never redeemed.
func (s *Service) Quote(ctx context.Context, userID, method string) (Quote, string, error) {
	c, err := s.ensure(ctx, userID)
	if err != nil {
		return Quote{}, "", err
	}
	q, err := s.quote(ctx, c, method)
	if err != nil {
		return Quote{}, "", err
	}
	code := ""
	if c.PromoCode.Valid && c.PromoCode.String != "" && s.Promo != nil {
		code = c.PromoCode.String
		res, err := s.Promo.Validate(ctx, code, q.Totals.Total)
		if err != nil {
			return Quote{}, "", err
		}
		q.Promo = &res
		q.Totals = ApplyPromo(q.Totals, &res)
	}
	return q, code, nil
}

func (s *Service) quote(ctx context.Context, c dbgen.Cart, method string) (Quote, error) {
	if method == "" {
		method = c.DeliveryMethod
	}
	m, ok := pricing.ParseDeliveryMethod(method)
	if !ok {
		return Quote{}, common.BadRequest("INVALID_DELIVERY_METHOD", "deliveryMethod must be delivery or pickup")
	}
	rows, err := s.Q.ListCartLines(ctx, c.ID)
	if err != nil {
		return Quote{}, err
	}
	priced, lines := PriceLines(rows, s.now())
	return Quote{Method: m, Lines: priced, Totals: s.rates().Compute(lines, m)}, nil
}
