package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, user_id, status, delivery_method, currency, subtotal_cents, delivery_fee_cents,
  tax_amount_cents, tax_rate, promo_code, promo_discount_cents, total_cents, hold_expires_at,
  created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Status,
		&i.DeliveryMethod,
		&i.Currency,
		&i.SubtotalCents,
		&i.DeliveryFeeCents,
		&i.TaxAmountCents,
		&i.TaxRate,
		&i.PromoCode,
		&i.PromoDiscountCents,
		&i.TotalCents,
		&i.HoldExpiresAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectOrders(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]Order, error) {
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (id, user_id, status, delivery_method, currency, subtotal_cents, delivery_fee_cents,
  tax_amount_cents, tax_rate, promo_code, promo_discount_cents, total_cents, hold_expires_at)
VALUES ($1, $2, 'PENDING', $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	ID                 pgtype.UUID
	UserID             pgtype.UUID
	DeliveryMethod     string
	Currency           string
	SubtotalCents      int64
	DeliveryFeeCents   int64
	TaxAmountCents     int64
	TaxRate            pgtype.Numeric
	PromoCode          pgtype.Text
	PromoDiscountCents int64
	TotalCents         int64
	HoldExpiresAt      pgtype.Timestamptz
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.ID,
		arg.UserID,
		arg.DeliveryMethod,
		arg.Currency,
		arg.SubtotalCents,
		arg.DeliveryFeeCents,
		arg.TaxAmountCents,
		arg.TaxRate,
		arg.PromoCode,
		arg.PromoDiscountCents,
		arg.TotalCents,
		arg.HoldExpiresAt,
	)
	return scanOrder(row)
}

const createOrderItem = `-- name: CreateOrderItem :exec
INSERT INTO order_items (order_id, listing_id, title, unit_price_cents, quantity, is_bulk)
VALUES ($1, $2, $3, $4, $5, $6)`

type CreateOrderItemParams struct {
	OrderID        pgtype.UUID
	ListingID      pgtype.UUID
	Title          string
	UnitPriceCents int64
	Quantity       int32
	IsBulk         bool
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) error {
	_, err := q.db.Exec(ctx, createOrderItem,
		arg.OrderID,
		arg.ListingID,
		arg.Title,
		arg.UnitPriceCents,
		arg.Quantity,
		arg.IsBulk,
	)
	return err
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id pgtype.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUser = `-- name: GetOrderForUser :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND user_id = $2`

type GetOrderForUserParams struct {
	ID     pgtype.UUID
	UserID pgtype.UUID
}

func (q *Queries) GetOrderForUser(ctx context.Context, arg GetOrderForUserParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUser, arg.ID, arg.UserID))
}

const listOrdersByUser = `-- name: ListOrdersByUser :many
SELECT ` + orderColumns + `
FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

type ListOrdersByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrdersByUser(ctx context.Context, arg ListOrdersByUserParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrdersByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

const countOrdersByUser = `-- name: CountOrdersByUser :one
SELECT count(*) FROM orders WHERE user_id = $1`

func (q *Queries) CountOrdersByUser(ctx context.Context, userID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countOrdersByUser, userID).Scan(&count)
	return count, err
}

const listOrderItems = `-- name: ListOrderItems :many
SELECT id, order_id, listing_id, title, unit_price_cents, quantity, is_bulk
FROM order_items
WHERE order_id = $1
ORDER BY title`

func (q *Queries) ListOrderItems(ctx context.Context, orderID pgtype.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItems, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var i OrderItem
		if err := rows.Scan(
			&i.ID,
			&i.OrderID,
			&i.ListingID,
			&i.Title,
			&i.UnitPriceCents,
			&i.Quantity,
			&i.IsBulk,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const transitionOrderStatus = `-- name: TransitionOrderStatus :one
UPDATE orders
SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
RETURNING ` + orderColumns

type TransitionOrderStatusParams struct {
	ID   pgtype.UUID
	From OrderStatus
	To   OrderStatus
}

// TransitionOrderStatus returns pgx.ErrNoRows when the order is not in From.
func (q *Queries) TransitionOrderStatus(ctx context.Context, arg TransitionOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, transitionOrderStatus, arg.ID, arg.From, arg.To))
}

const listExpiredPendingOrders = `-- name: ListExpiredPendingOrders :many
SELECT ` + orderColumns + `
FROM orders
WHERE status = 'PENDING' AND hold_expires_at IS NOT NULL AND hold_expires_at < $1
ORDER BY hold_expires_at
LIMIT $2`

type ListExpiredPendingOrdersParams struct {
	Before pgtype.Timestamptz
	Limit  int32
}

func (q *Queries) ListExpiredPendingOrders(ctx context.Context, arg ListExpiredPendingOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listExpiredPendingOrders, arg.Before, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}
