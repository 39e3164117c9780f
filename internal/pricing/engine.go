package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DeliveryMethod selects how an order reaches the buyer.
type DeliveryMethod string

const (
	Delivery DeliveryMethod = "delivery"
	Pickup   DeliveryMethod = "pickup"
)

// ParseDeliveryMethod accepts "delivery" or "pickup" in any case.
func ParseDeliveryMethod(v string) (DeliveryMethod, bool) {
	switch DeliveryMethod(strings.ToLower(strings.TrimSpace(v))) {
	case Delivery:
		return Delivery, true
	case Pickup:
		return Pickup, true
	}
	return "", false
}

// Line describes a cart line priced at its effective unit price. Callers
// reject negative prices and non-positive quantities before computing.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
	Bulk      bool
}

// Rates holds the fee and tax parameters of the totals computation.
type Rates struct {
	TaxRate          decimal.Decimal
	FeeThreshold     decimal.Decimal
	BulkFeeBelow     decimal.Decimal
	StandardFeeBelow decimal.Decimal
	BulkFeeAbove     decimal.Decimal
	StandardFeeAbove decimal.Decimal
}

// DefaultTaxRate is the flat sales tax applied to the subtotal.
var DefaultTaxRate = decimal.RequireFromString("0.0825")

// DefaultRates returns the standard fee tiers: below 150 bulk orders pay 100
// and others 50; from 150 up bulk orders pay 50 and others ship free.
func DefaultRates() Rates {
	return Rates{
		TaxRate:          DefaultTaxRate,
		FeeThreshold:     decimal.NewFromInt(150),
		BulkFeeBelow:     decimal.NewFromInt(100),
		StandardFeeBelow: decimal.NewFromInt(50),
		BulkFeeAbove:     decimal.NewFromInt(50),
		StandardFeeAbove: decimal.Zero,
	}
}

// Totals aggregates computed pricing components.
type Totals struct {
	Subtotal       decimal.Decimal
	DeliveryFee    decimal.Decimal
	Tax            decimal.Decimal
	TaxRate        decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	HasBulkItems   bool
	HasNormalItems bool
}

// ComputeTotals prices lines with the default rates.
func ComputeTotals(lines []Line, method DeliveryMethod) Totals {
	return DefaultRates().Compute(lines, method)
}

// Compute calculates subtotal, delivery fee, tax and total. Tax is charged on
// the subtotal only; the delivery fee is never taxed.
func (r Rates) Compute(lines []Line, method DeliveryMethod) Totals {
	t := Totals{TaxRate: r.TaxRate}
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		if l.Bulk {
			t.HasBulkItems = true
		} else {
			t.HasNormalItems = true
		}
	}
	t.Subtotal = Round2(subtotal)
	t.DeliveryFee = r.deliveryFee(t, method)
	t.Tax = Round2(t.Subtotal.Mul(r.TaxRate))
	t.Discount = decimal.Zero
	t.Total = t.Subtotal.Add(t.DeliveryFee).Add(t.Tax)
	return t
}

// deliveryFee is zero for pickup and for an empty cart.
func (r Rates) deliveryFee(t Totals, method DeliveryMethod) decimal.Decimal {
	if method != Delivery || (!t.HasBulkItems && !t.HasNormalItems) {
		return decimal.Zero
	}
	bulk := t.HasBulkItems
	if t.Subtotal.LessThan(r.FeeThreshold) {
		if bulk {
			return r.BulkFeeBelow
		}
		return r.StandardFeeBelow
	}
	if bulk {
		return r.BulkFeeAbove
	}
	return r.StandardFeeAbove
}

// WithDiscount returns a copy of t with discount subtracted from the total.
// The discount is capped so the total never goes negative.
func (t Totals) WithDiscount(discount decimal.Decimal) Totals {
	gross := t.Subtotal.Add(t.DeliveryFee).Add(t.Tax)
	discount = Round2(discount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(gross) {
		discount = gross
	}
	t.Discount = discount
	t.Total = gross.Sub(discount)
	return t
}
