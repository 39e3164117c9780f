package order

import (
	"time"

	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/db"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
)

// ItemView is an order line as frozen at checkout.
type ItemView struct {
	ListingID string  `json:"listingId"`
	Title     string  `json:"title"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int32   `json:"quantity"`
	IsBulk    bool    `json:"isBulk"`
}

// View is the API representation of an order and its pricing snapshot.
type View struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	DeliveryMethod string     `json:"deliveryMethod"`
	Currency       string     `json:"currency"`
	Subtotal       float64    `json:"subtotal"`
	DeliveryFee    float64    `json:"deliveryFee"`
	TaxRate        float64    `json:"taxRate"`
	Tax            float64    `json:"tax"`
	PromoCode      string     `json:"promoCode,omitempty"`
	Discount       float64    `json:"discount"`
	Total          float64    `json:"total"`
	HoldExpiresAt  *time.Time `json:"holdExpiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	Items          []ItemView `json:"items,omitempty"`
}

func cents(v int64) float64 {
	return pricing.Float(pricing.FromCents(v))
}

// NewView renders o with its items; items may be nil for list pages.
func NewView(o dbgen.Order, items []dbgen.OrderItem) View {
	v := View{
		ID:             common.UUIDString(o.ID),
		Status:         string(o.Status),
		DeliveryMethod: o.DeliveryMethod,
		Currency:       o.Currency,
		Subtotal:       cents(o.SubtotalCents),
		DeliveryFee:    cents(o.DeliveryFeeCents),
		TaxRate:        db.DecimalFromNumeric(o.TaxRate).InexactFloat64(),
		Tax:            cents(o.TaxAmountCents),
		Discount:       cents(o.PromoDiscountCents),
		Total:          cents(o.TotalCents),
		CreatedAt:      o.CreatedAt.Time,
	}
	if o.PromoCode.Valid {
		v.PromoCode = o.PromoCode.String
	}
	if o.HoldExpiresAt.Valid && o.Status == dbgen.OrderStatusPending {
		at := o.HoldExpiresAt.Time
		v.HoldExpiresAt = &at
	}
	if items != nil {
		v.Items = make([]ItemView, 0, len(items))
		for _, it := range items {
			v.Items = append(v.Items, ItemView{
				ListingID: common.UUIDString(it.ListingID),
				Title:     it.Title,
				UnitPrice: cents(it.UnitPriceCents),
				Quantity:  it.Quantity,
				IsBulk:    it.IsBulk,
			})
		}
	}
	return v
}
