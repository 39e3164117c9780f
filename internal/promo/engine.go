package promo

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/treasurehub/treasurehub-api/internal/pricing"
)

// Type is the discount strategy of a promo code.
type Type string

const (
	TypePercentage   Type = "percentage"
	TypeFixedAmount  Type = "fixed_amount"
	TypeFreeShipping Type = "free_shipping"
)

// Valid reports whether t is a known strategy.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixedAmount, TypeFreeShipping:
		return true
	}
	return false
}

// Reason identifies why a code was rejected. The empty Reason means valid.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNotFound      Reason = "not_found"
	ReasonInactive      Reason = "inactive"
	ReasonNotYetStarted Reason = "not_yet_started"
	ReasonExpired       Reason = "expired"
	ReasonLimitReached  Reason = "limit_reached"
)

var reasonMessages = map[Reason]string{
	ReasonNotFound:      "Invalid promo code",
	ReasonInactive:      "This promo code is no longer active",
	ReasonNotYetStarted: "This promo code is not yet valid",
	ReasonExpired:       "This promo code has expired",
	ReasonLimitReached:  "This promo code has reached its usage limit",
}

// Message returns the user-facing text for r.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// Code captures the runtime constraints of a promo code.
type Code struct {
	Code       string
	Type       Type
	Value      decimal.Decimal
	IsActive   bool
	StartDate  *time.Time
	EndDate    *time.Time
	UsageLimit *int32
	UsageCount int32
}

// Result is the outcome of validating a code against an order total.
// Discount is zero for free_shipping; callers substitute the delivery fee.
type Result struct {
	Valid    bool            `json:"valid"`
	Reason   Reason          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
	Code     string          `json:"code"`
	Type     Type            `json:"type,omitempty"`
	Discount decimal.Decimal `json:"-"`
}

// Rejected builds the result for a failed check.
func Rejected(code string, reason Reason) Result {
	return Result{Code: code, Reason: reason, Message: reason.Message()}
}

var codePattern = regexp.MustCompile(`^[A-Z0-9]{3,32}$`)

// Normalize trims and uppercases a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// WellFormed reports whether a normalized code is 3 to 32 uppercase alphanumerics.
func WellFormed(code string) bool {
	return codePattern.MatchString(code)
}

// Check runs the validity checks in order and returns the first failure.
func (c Code) Check(now time.Time) Reason {
	if !c.IsActive {
		return ReasonInactive
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return ReasonNotYetStarted
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return ReasonExpired
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ReasonLimitReached
	}
	return ReasonNone
}

// Discount computes the amount off orderTotal, rounded to cents. Fixed
// amounts never exceed the order total.
func (c Code) Discount(orderTotal decimal.Decimal) decimal.Decimal {
	if orderTotal.IsNegative() {
		orderTotal = decimal.Zero
	}
	var amount decimal.Decimal
	switch c.Type {
	case TypePercentage:
		amount = orderTotal.Mul(c.Value).Div(decimal.NewFromInt(100))
	case TypeFixedAmount:
		amount = decimal.Min(c.Value, orderTotal)
	default:
		amount = decimal.Zero
	}
	return pricing.Round2(amount)
}

// Validate evaluates c at now. A nil code yields a not_found rejection.
func Validate(c *Code, orderTotal decimal.Decimal, now time.Time) Result {
	if c == nil {
		return Rejected("", ReasonNotFound)
	}
	if reason := c.Check(now); reason != ReasonNone {
		res := Rejected(c.Code, reason)
		res.Type = c.Type
		return res
	}
	return Result{
		Valid:    true,
		Code:     c.Code,
		Type:     c.Type,
		Discount: c.Discount(orderTotal),
	}
}

// Amount resolves the discount against computed totals. A valid
// free_shipping code waives the delivery fee.
func (r Result) Amount(t pricing.Totals) decimal.Decimal {
	if !r.Valid {
		return decimal.Zero
	}
	if r.Type == TypeFreeShipping {
		return t.DeliveryFee
	}
	return r.Discount
}
