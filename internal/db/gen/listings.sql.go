package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listingColumns = `id, seller_id, title, slug, description, price_cents, reserve_price_cents,
  discount_schedule, delivery_category, status, current_price_cents, held_until, held_by_order,
  created_at, updated_at`

func scanListing(row interface{ Scan(...any) error }) (Listing, error) {
	var i Listing
	err := row.Scan(
		&i.ID,
		&i.SellerID,
		&i.Title,
		&i.Slug,
		&i.Description,
		&i.PriceCents,
		&i.ReservePriceCents,
		&i.DiscountSchedule,
		&i.DeliveryCategory,
		&i.Status,
		&i.CurrentPriceCents,
		&i.HeldUntil,
		&i.HeldByOrder,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createListing = `-- name: CreateListing :one
INSERT INTO listings (seller_id, title, slug, description, price_cents, reserve_price_cents,
  discount_schedule, delivery_category, current_price_cents)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $5)
RETURNING ` + listingColumns

type CreateListingParams struct {
	SellerID          pgtype.UUID
	Title             string
	Slug              string
	Description       pgtype.Text
	PriceCents        int64
	ReservePriceCents pgtype.Int8
	DiscountSchedule  pgtype.Text
	DeliveryCategory  DeliveryCategory
}

func (q *Queries) CreateListing(ctx context.Context, arg CreateListingParams) (Listing, error) {
	row := q.db.QueryRow(ctx, createListing,
		arg.SellerID,
		arg.Title,
		arg.Slug,
		arg.Description,
		arg.PriceCents,
		arg.ReservePriceCents,
		arg.DiscountSchedule,
		arg.DeliveryCategory,
	)
	return scanListing(row)
}

const updateListing = `-- name: UpdateListing :one
UPDATE listings
SET title = $2,
    description = $3,
    price_cents = $4,
    reserve_price_cents = $5,
    discount_schedule = $6,
    delivery_category = $7,
    updated_at = now()
WHERE id = $1 AND status <> 'SOLD'
RETURNING ` + listingColumns

type UpdateListingParams struct {
	ID                pgtype.UUID
	Title             string
	Description       pgtype.Text
	PriceCents        int64
	ReservePriceCents pgtype.Int8
	DiscountSchedule  pgtype.Text
	DeliveryCategory  DeliveryCategory
}

func (q *Queries) UpdateListing(ctx context.Context, arg UpdateListingParams) (Listing, error) {
	row := q.db.QueryRow(ctx, updateListing,
		arg.ID,
		arg.Title,
		arg.Description,
		arg.PriceCents,
		arg.ReservePriceCents,
		arg.DiscountSchedule,
		arg.DeliveryCategory,
	)
	return scanListing(row)
}

const getListing = `-- name: GetListing :one
SELECT ` + listingColumns + `
FROM listings
WHERE id = $1`

func (q *Queries) GetListing(ctx context.Context, id pgtype.UUID) (Listing, error) {
	return scanListing(q.db.QueryRow(ctx, getListing, id))
}

const getListingBySlug = `-- name: GetListingBySlug :one
SELECT ` + listingColumns + `
FROM listings
WHERE slug = $1`

func (q *Queries) GetListingBySlug(ctx context.Context, slug string) (Listing, error) {
	return scanListing(q.db.QueryRow(ctx, getListingBySlug, slug))
}

const listListings = `-- name: ListListings :many
SELECT ` + listingColumns + `
FROM listings
WHERE ($1::text = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`

type ListListingsParams struct {
	Status string
	Limit  int32
	Offset int32
}

func (q *Queries) ListListings(ctx context.Context, arg ListListingsParams) ([]Listing, error) {
	rows, err := q.db.Query(ctx, listListings, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Listing
	for rows.Next() {
		i, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const countListings = `-- name: CountListings :one
SELECT count(*) FROM listings WHERE ($1::text = '' OR status = $1)`

func (q *Queries) CountListings(ctx context.Context, status string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countListings, status).Scan(&count)
	return count, err
}

const listScheduledListings = `-- name: ListScheduledListings :many
SELECT ` + listingColumns + `
FROM listings
WHERE discount_schedule IS NOT NULL AND status IN ('ACTIVE', 'HELD')
ORDER BY created_at, id
LIMIT $1 OFFSET $2`

type ListScheduledListingsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListScheduledListings(ctx context.Context, arg ListScheduledListingsParams) ([]Listing, error) {
	rows, err := q.db.Query(ctx, listScheduledListings, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Listing
	for rows.Next() {
		i, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const updateListingCurrentPrice = `-- name: UpdateListingCurrentPrice :execrows
UPDATE listings
SET current_price_cents = $2, updated_at = now()
WHERE id = $1 AND current_price_cents <> $2`

type UpdateListingCurrentPriceParams struct {
	ID                pgtype.UUID
	CurrentPriceCents int64
}

func (q *Queries) UpdateListingCurrentPrice(ctx context.Context, arg UpdateListingCurrentPriceParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateListingCurrentPrice, arg.ID, arg.CurrentPriceCents)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const holdListing = `-- name: HoldListing :execrows
UPDATE listings
SET status = 'HELD', held_until = $3, held_by_order = $2, updated_at = now()
WHERE id = $1
  AND (status = 'ACTIVE' OR (status = 'HELD' AND held_until < $4))`

type HoldListingParams struct {
	ID        pgtype.UUID
	OrderID   pgtype.UUID
	HeldUntil pgtype.Timestamptz
	Now       pgtype.Timestamptz
}

// HoldListing returns 0 rows when the listing is sold, archived or held by a
// live hold.
func (q *Queries) HoldListing(ctx context.Context, arg HoldListingParams) (int64, error) {
	result, err := q.db.Exec(ctx, holdListing, arg.ID, arg.OrderID, arg.HeldUntil, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const releaseOrderHolds = `-- name: ReleaseOrderHolds :execrows
UPDATE listings
SET status = 'ACTIVE', held_until = NULL, held_by_order = NULL, updated_at = now()
WHERE held_by_order = $1 AND status = 'HELD'`

func (q *Queries) ReleaseOrderHolds(ctx context.Context, orderID pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, releaseOrderHolds, orderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const markOrderListingsSold = `-- name: MarkOrderListingsSold :execrows
UPDATE listings
SET status = 'SOLD', held_until = NULL, updated_at = now()
WHERE held_by_order = $1 AND status = 'HELD'`

func (q *Queries) MarkOrderListingsSold(ctx context.Context, orderID pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markOrderListingsSold, orderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
