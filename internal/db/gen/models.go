package dbgen

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type DeliveryCategory string

const (
	DeliveryCategoryNormal DeliveryCategory = "NORMAL"
	DeliveryCategoryBulk   DeliveryCategory = "BULK"
)

type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "ACTIVE"
	ListingStatusHeld     ListingStatus = "HELD"
	ListingStatusSold     ListingStatus = "SOLD"
	ListingStatusArchived ListingStatus = "ARCHIVED"
)

type PromoType string

const (
	PromoTypePercentage   PromoType = "percentage"
	PromoTypeFixedAmount  PromoType = "fixed_amount"
	PromoTypeFreeShipping PromoType = "free_shipping"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

type Listing struct {
	ID                pgtype.UUID        `json:"id"`
	SellerID          pgtype.UUID        `json:"sellerId"`
	Title             string             `json:"title"`
	Slug              string             `json:"slug"`
	Description       pgtype.Text        `json:"description"`
	PriceCents        int64              `json:"priceCents"`
	ReservePriceCents pgtype.Int8        `json:"reservePriceCents"`
	DiscountSchedule  pgtype.Text        `json:"discountSchedule"`
	DeliveryCategory  DeliveryCategory   `json:"deliveryCategory"`
	Status            ListingStatus      `json:"status"`
	CurrentPriceCents int64              `json:"currentPriceCents"`
	HeldUntil         pgtype.Timestamptz `json:"heldUntil"`
	HeldByOrder       pgtype.UUID        `json:"heldByOrder"`
	CreatedAt         pgtype.Timestamptz `json:"createdAt"`
	UpdatedAt         pgtype.Timestamptz `json:"updatedAt"`
}

type PromoCode struct {
	ID         pgtype.UUID        `json:"id"`
	Code       string             `json:"code"`
	Type       PromoType          `json:"type"`
	Value      pgtype.Numeric     `json:"value"`
	IsActive   bool               `json:"isActive"`
	StartDate  pgtype.Timestamptz `json:"startDate"`
	EndDate    pgtype.Timestamptz `json:"endDate"`
	UsageLimit pgtype.Int4        `json:"usageLimit"`
	UsageCount int32              `json:"usageCount"`
	CreatedAt  pgtype.Timestamptz `json:"createdAt"`
	UpdatedAt  pgtype.Timestamptz `json:"updatedAt"`
}

type Cart struct {
	ID             pgtype.UUID        `json:"id"`
	UserID         pgtype.UUID        `json:"userId"`
	DeliveryMethod string             `json:"deliveryMethod"`
	PromoCode      pgtype.Text        `json:"promoCode"`
	CreatedAt      pgtype.Timestamptz `json:"createdAt"`
	UpdatedAt      pgtype.Timestamptz `json:"updatedAt"`
}

type CartItem struct {
	ID        pgtype.UUID        `json:"id"`
	CartID    pgtype.UUID        `json:"cartId"`
	ListingID pgtype.UUID        `json:"listingId"`
	Quantity  int32              `json:"quantity"`
	CreatedAt pgtype.Timestamptz `json:"createdAt"`
}

type Order struct {
	ID                 pgtype.UUID        `json:"id"`
	UserID             pgtype.UUID        `json:"userId"`
	Status             OrderStatus        `json:"status"`
	DeliveryMethod     string             `json:"deliveryMethod"`
	Currency           string             `json:"currency"`
	SubtotalCents      int64              `json:"subtotalCents"`
	DeliveryFeeCents   int64              `json:"deliveryFeeCents"`
	TaxAmountCents     int64              `json:"taxAmountCents"`
	TaxRate            pgtype.Numeric     `json:"taxRate"`
	PromoCode          pgtype.Text        `json:"promoCode"`
	PromoDiscountCents int64              `json:"promoDiscountCents"`
	TotalCents         int64              `json:"totalCents"`
	HoldExpiresAt      pgtype.Timestamptz `json:"holdExpiresAt"`
	CreatedAt          pgtype.Timestamptz `json:"createdAt"`
	UpdatedAt          pgtype.Timestamptz `json:"updatedAt"`
}

type OrderItem struct {
	ID             pgtype.UUID `json:"id"`
	OrderID        pgtype.UUID `json:"orderId"`
	ListingID      pgtype.UUID `json:"listingId"`
	Title          string      `json:"title"`
	UnitPriceCents int64       `json:"unitPriceCents"`
	Quantity       int32       `json:"quantity"`
	IsBulk         bool        `json:"isBulk"`
}

type DomainEvent struct {
	ID          pgtype.UUID        `json:"id"`
	Topic       string             `json:"topic"`
	AggregateID pgtype.UUID        `json:"aggregateId"`
	Payload     []byte             `json:"payload"`
	OccurredAt  pgtype.Timestamptz `json:"occurredAt"`
}
