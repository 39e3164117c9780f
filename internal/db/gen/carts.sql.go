package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const cartColumns = `id, user_id, delivery_method, promo_code, created_at, updated_at`

func scanCart(row interface{ Scan(...any) error }) (Cart, error) {
	var i Cart
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.DeliveryMethod,
		&i.PromoCode,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const ensureCart = `-- name: EnsureCart :one
INSERT INTO carts (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
RETURNING ` + cartColumns

func (q *Queries) EnsureCart(ctx context.Context, userID pgtype.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, ensureCart, userID))
}

const getCartByUser = `-- name: GetCartByUser :one
SELECT ` + cartColumns + `
FROM carts
WHERE user_id = $1`

func (q *Queries) GetCartByUser(ctx context.Context, userID pgtype.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, getCartByUser, userID))
}

const getCartByUserForUpdate = `-- name: GetCartByUserForUpdate :one
SELECT ` + cartColumns + `
FROM carts
WHERE user_id = $1
FOR UPDATE`

func (q *Queries) GetCartByUserForUpdate(ctx context.Context, userID pgtype.UUID) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, getCartByUserForUpdate, userID))
}

const setCartDeliveryMethod = `-- name: SetCartDeliveryMethod :one
UPDATE carts SET delivery_method = $2, updated_at = now()
WHERE id = $1
RETURNING ` + cartColumns

type SetCartDeliveryMethodParams struct {
	ID             pgtype.UUID
	DeliveryMethod string
}

func (q *Queries) SetCartDeliveryMethod(ctx context.Context, arg SetCartDeliveryMethodParams) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, setCartDeliveryMethod, arg.ID, arg.DeliveryMethod))
}

const setCartPromoCode = `-- name: SetCartPromoCode :one
UPDATE carts SET promo_code = $2, updated_at = now()
WHERE id = $1
RETURNING ` + cartColumns

type SetCartPromoCodeParams struct {
	ID        pgtype.UUID
	PromoCode pgtype.Text
}

func (q *Queries) SetCartPromoCode(ctx context.Context, arg SetCartPromoCodeParams) (Cart, error) {
	return scanCart(q.db.QueryRow(ctx, setCartPromoCode, arg.ID, arg.PromoCode))
}

const upsertCartItem = `-- name: UpsertCartItem :one
INSERT INTO cart_items (cart_id, listing_id, quantity)
VALUES ($1, $2, $3)
ON CONFLICT (cart_id, listing_id) DO UPDATE SET quantity = EXCLUDED.quantity
RETURNING id, cart_id, listing_id, quantity, created_at`

type UpsertCartItemParams struct {
	CartID    pgtype.UUID
	ListingID pgtype.UUID
	Quantity  int32
}

func (q *Queries) UpsertCartItem(ctx context.Context, arg UpsertCartItemParams) (CartItem, error) {
	row := q.db.QueryRow(ctx, upsertCartItem, arg.CartID, arg.ListingID, arg.Quantity)
	var i CartItem
	err := row.Scan(&i.ID, &i.CartID, &i.ListingID, &i.Quantity, &i.CreatedAt)
	return i, err
}

const deleteCartItem = `-- name: DeleteCartItem :execrows
DELETE FROM cart_items WHERE cart_id = $1 AND listing_id = $2`

type DeleteCartItemParams struct {
	CartID    pgtype.UUID
	ListingID pgtype.UUID
}

func (q *Queries) DeleteCartItem(ctx context.Context, arg DeleteCartItemParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteCartItem, arg.CartID, arg.ListingID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const clearCart = `-- name: ClearCart :exec
WITH emptied AS (
  DELETE FROM cart_items WHERE cart_id = $1
)
UPDATE carts SET promo_code = NULL, updated_at = now() WHERE id = $1`

func (q *Queries) ClearCart(ctx context.Context, cartID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, clearCart, cartID)
	return err
}

const listCartLines = `-- name: ListCartLines :many
SELECT ci.listing_id, ci.quantity, l.title, l.price_cents, l.reserve_price_cents,
  l.discount_schedule, l.delivery_category, l.status, l.held_until, l.created_at
FROM cart_items ci
JOIN listings l ON l.id = ci.listing_id
WHERE ci.cart_id = $1
ORDER BY ci.created_at`

type ListCartLinesRow struct {
	ListingID         pgtype.UUID
	Quantity          int32
	Title             string
	PriceCents        int64
	ReservePriceCents pgtype.Int8
	DiscountSchedule  pgtype.Text
	DeliveryCategory  DeliveryCategory
	Status            ListingStatus
	HeldUntil         pgtype.Timestamptz
	CreatedAt         pgtype.Timestamptz
}

func (q *Queries) ListCartLines(ctx context.Context, cartID pgtype.UUID) ([]ListCartLinesRow, error) {
	rows, err := q.db.Query(ctx, listCartLines, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListCartLinesRow
	for rows.Next() {
		var i ListCartLinesRow
		if err := rows.Scan(
			&i.ListingID,
			&i.Quantity,
			&i.Title,
			&i.PriceCents,
			&i.ReservePriceCents,
			&i.DiscountSchedule,
			&i.DeliveryCategory,
			&i.Status,
			&i.HeldUntil,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
