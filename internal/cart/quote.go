package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/treasurehub/treasurehub-api/internal/catalog"
	"github.com/treasurehub/treasurehub-api/internal/common"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
	"github.com/treasurehub/treasurehub-api/internal/promo"
)

// PricedLine is a cart line evaluated at a point in time.
type PricedLine struct {
	ListingID        string
	Title            string
	UnitPrice        decimal.Decimal
	Quantity         int
	LineTotal        decimal.Decimal
	DeliveryCategory dbgen.DeliveryCategory
	Available        bool
}

// Available reports whether a listing can be bought at now: it is active, or
// its hold has lapsed.
func Available(status dbgen.ListingStatus, heldUntil time.Time, now time.Time) bool {
	switch status {
	case dbgen.ListingStatusActive:
		return true
	case dbgen.ListingStatusHeld:
		return !heldUntil.IsZero() && !heldUntil.After(now)
	}
	return false
}

// PriceLines prices each row at its effective price for now.
func PriceLines(rows []dbgen.ListCartLinesRow, now time.Time) ([]PricedLine, []pricing.Line) {
	priced := make([]PricedLine, 0, len(rows))
	lines := make([]pricing.Line, 0, len(rows))
	for _, row := range rows {
		l := catalog.PricingListing(row.PriceCents, row.ReservePriceCents, row.DiscountSchedule, row.CreatedAt)
		unit := pricing.EffectivePrice(l, now)
		qty := int(row.Quantity)
		priced = append(priced, PricedLine{
			ListingID:        common.UUIDString(row.ListingID),
			Title:            row.Title,
			UnitPrice:        unit,
			Quantity:         qty,
			LineTotal:        pricing.Round2(unit.Mul(decimal.NewFromInt(int64(qty)))),
			DeliveryCategory: row.DeliveryCategory,
			Available:        Available(row.Status, row.HeldUntil.Time, now),
		})
		lines = append(lines, pricing.Line{
			UnitPrice: unit,
			Quantity:  qty,
			Bulk:      row.DeliveryCategory == dbgen.DeliveryCategoryBulk,
		})
	}
	return priced, lines
}

// Quote is the priced view of a cart.
type Quote struct {
	Method pricing.DeliveryMethod
	Lines  []PricedLine
	Totals pricing.Totals
	Promo  *promo.Result
}

// ApplyPromo folds a promo result into totals. The promo is evaluated against
// the pre-discount total.
func ApplyPromo(t pricing.Totals, res *promo.Result) pricing.Totals {
	if res == nil {
		return t
	}
	return t.WithDiscount(res.Amount(t))
}

// TotalsView is the JSON form of pricing.Totals.
type TotalsView struct {
	Subtotal       float64 `json:"subtotal"`
	DeliveryFee    float64 `json:"deliveryFee"`
	Tax            float64 `json:"tax"`
	TaxRate        float64 `json:"taxRate"`
	Discount       float64 `json:"discount"`
	Total          float64 `json:"total"`
	HasBulkItems   bool    `json:"hasBulkItems"`
	HasNormalItems bool    `json:"hasNormalItems"`
}

// NewTotalsView converts totals for rendering.
func NewTotalsView(t pricing.Totals) TotalsView {
	return TotalsView{
		Subtotal:       pricing.Float(t.Subtotal),
		DeliveryFee:    pricing.Float(t.DeliveryFee),
		Tax:            pricing.Float(t.Tax),
		TaxRate:        t.TaxRate.InexactFloat64(),
		Discount:       pricing.Float(t.Discount),
		Total:          pricing.Float(t.Total),
		HasBulkItems:   t.HasBulkItems,
		HasNormalItems: t.HasNormalItems,
	}
}

type lineView struct {
	ListingID        string  `json:"listingId"`
	Title            string  `json:"title"`
	UnitPrice        float64 `json:"unitPrice"`
	Quantity         int     `json:"quantity"`
	LineTotal        float64 `json:"lineTotal"`
	DeliveryCategory string  `json:"deliveryCategory"`
	Available        bool    `json:"available"`
}

type quoteView struct {
	DeliveryMethod string        `json:"deliveryMethod"`
	PromoCode      string        `json:"promoCode,omitempty"`
	Items          []lineView    `json:"items"`
	Totals         TotalsView    `json:"totals"`
	Promo          *promo.Result `json:"promo,omitempty"`
}

func newQuoteView(q Quote, code string) quoteView {
	items := make([]lineView, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, lineView{
			ListingID:        l.ListingID,
			Title:            l.Title,
			UnitPrice:        pricing.Float(l.UnitPrice),
			Quantity:         l.Quantity,
			LineTotal:        pricing.Float(l.LineTotal),
			DeliveryCategory: string(l.DeliveryCategory),
			Available:        l.Available,
		})
	}
	return quoteView{
		DeliveryMethod: string(q.Method),
		PromoCode:      code,
		Items:          items,
		Totals:         NewTotalsView(q.Totals),
		Promo:          q.Promo,
	}
}
