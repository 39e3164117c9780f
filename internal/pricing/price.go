package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// AnyMomentNow is shown when the next drop boundary has already passed.
const AnyMomentNow = "Any moment now..."

// Listing carries the inputs the price decay depends on.
type Listing struct {
	ListPrice    decimal.Decimal
	ReservePrice *decimal.Decimal
	Schedule     string
	CreatedAt    time.Time
}

// NextDrop describes the upcoming scheduled price change.
type NextDrop struct {
	At    time.Time
	Label string
}

// DaysSinceCreation floors the elapsed time to whole days. It is negative
// when createdAt lies in the future.
func DaysSinceCreation(createdAt, now time.Time) int {
	return int(math.Floor(float64(now.Sub(createdAt)) / float64(day)))
}

// EffectivePrice returns the listing price at now. Listings without a known
// schedule keep their list price. The result never drops below the reserve.
func EffectivePrice(l Listing, now time.Time) decimal.Decimal {
	s, ok := LookupSchedule(l.Schedule)
	if !ok {
		return l.ListPrice
	}
	days := DaysSinceCreation(l.CreatedAt, now)
	if days >= s.TotalDays {
		return l.decayed()
	}
	return l.atPercent(s.percentAt(days))
}

// NextDropPrice returns the price the listing will have at its next schedule
// step, or nil when there is no schedule or it has fully decayed.
func NextDropPrice(l Listing, now time.Time) *decimal.Decimal {
	s, ok := LookupSchedule(l.Schedule)
	if !ok {
		return nil
	}
	days := DaysSinceCreation(l.CreatedAt, now)
	if days >= s.TotalDays {
		return nil
	}
	step, ok := s.nextStep(days)
	if !ok {
		return nil
	}
	var price decimal.Decimal
	if step.Percent == 0 {
		price = l.decayed()
	} else {
		price = l.atPercent(step.Percent)
	}
	return &price
}

// TimeUntilNextDrop reports when the next schedule step starts, or nil when no
// further drops remain.
func TimeUntilNextDrop(l Listing, now time.Time) *NextDrop {
	s, ok := LookupSchedule(l.Schedule)
	if !ok {
		return nil
	}
	days := DaysSinceCreation(l.CreatedAt, now)
	if days >= s.TotalDays {
		return nil
	}
	step, ok := s.nextStep(days)
	if !ok {
		return nil
	}
	at := l.CreatedAt.Add(time.Duration(step.DayOffset) * day)
	return &NextDrop{At: at, Label: FormatRemaining(at.Sub(now))}
}

// FormatRemaining renders a duration as "Xd HHh MMm".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return AnyMomentNow
	}
	days := int(d / day)
	d -= time.Duration(days) * day
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	return fmt.Sprintf("%dd %02dh %02dm", days, hours, minutes)
}

func (l Listing) decayed() decimal.Decimal {
	if l.ReservePrice != nil {
		return *l.ReservePrice
	}
	return l.ListPrice
}

func (l Listing) atPercent(percent int64) decimal.Decimal {
	candidate := Round2(l.ListPrice.Mul(decimal.NewFromInt(percent)).Div(hundred))
	if l.ReservePrice != nil {
		return maxDecimal(candidate, *l.ReservePrice)
	}
	return candidate
}
