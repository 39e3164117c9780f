package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	ClearCart(ctx context.Context, cartID pgtype.UUID) error
	CountListings(ctx context.Context, status string) (int64, error)
	CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error)
	CountPromoCodes(ctx context.Context) (int64, error)
	CreateListing(ctx context.Context, arg CreateListingParams) (Listing, error)
	CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error)
	CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) error
	CreatePromoCode(ctx context.Context, arg CreatePromoCodeParams) (PromoCode, error)
	DeleteCartItem(ctx context.Context, arg DeleteCartItemParams) (int64, error)
	EnsureCart(ctx context.Context, userID pgtype.UUID) (Cart, error)
	GetCartByUser(ctx context.Context, userID pgtype.UUID) (Cart, error)
	GetCartByUserForUpdate(ctx context.Context, userID pgtype.UUID) (Cart, error)
	GetListing(ctx context.Context, id pgtype.UUID) (Listing, error)
	GetListingBySlug(ctx context.Context, slug string) (Listing, error)
	GetOrder(ctx context.Context, id pgtype.UUID) (Order, error)
	GetOrderForUser(ctx context.Context, arg GetOrderForUserParams) (Order, error)
	GetPromoCodeByCode(ctx context.Context, code string) (PromoCode, error)
	HoldListing(ctx context.Context, arg HoldListingParams) (int64, error)
	InsertDomainEvent(ctx context.Context, arg InsertDomainEventParams) (DomainEvent, error)
	ListCartLines(ctx context.Context, cartID pgtype.UUID) ([]ListCartLinesRow, error)
	ListExpiredPendingOrders(ctx context.Context, arg ListExpiredPendingOrdersParams) ([]Order, error)
	ListListings(ctx context.Context, arg ListListingsParams) ([]Listing, error)
	ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]OrderItem, error)
	ListOrdersByUser(ctx context.Context, arg ListOrdersByUserParams) ([]Order, error)
	ListPromoCodes(ctx context.Context, arg ListPromoCodesParams) ([]PromoCode, error)
	ListScheduledListings(ctx context.Context, arg ListScheduledListingsParams) ([]Listing, error)
	MarkOrderListingsSold(ctx context.Context, orderID pgtype.UUID) (int64, error)
	RedeemPromoCode(ctx context.Context, arg RedeemPromoCodeParams) (PromoCode, error)
	ReleaseOrderHolds(ctx context.Context, orderID pgtype.UUID) (int64, error)
	SetCartDeliveryMethod(ctx context.Context, arg SetCartDeliveryMethodParams) (Cart, error)
	SetCartPromoCode(ctx context.Context, arg SetCartPromoCodeParams) (Cart, error)
	TransitionOrderStatus(ctx context.Context, arg TransitionOrderStatusParams) (Order, error)
	UpdateListing(ctx context.Context, arg UpdateListingParams) (Listing, error)
	UpdateListingCurrentPrice(ctx context.Context, arg UpdateListingCurrentPriceParams) (int64, error)
	UpdatePromoCode(ctx context.Context, arg UpdatePromoCodeParams) (PromoCode, error)
	UpsertCartItem(ctx context.Context, arg UpsertCartItemParams) (CartItem, error)
}

var _ Querier = (*Queries)(nil)
