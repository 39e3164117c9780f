package dbgen

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const promoColumns = `id, code, type, value, is_active, start_date, end_date, usage_limit, usage_count,
  created_at, updated_at`

func scanPromoCode(row interface{ Scan(...any) error }) (PromoCode, error) {
	var i PromoCode
	err := row.Scan(
		&i.ID,
		&i.Code,
		&i.Type,
		&i.Value,
		&i.IsActive,
		&i.StartDate,
		&i.EndDate,
		&i.UsageLimit,
		&i.UsageCount,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createPromoCode = `-- name: CreatePromoCode :one
INSERT INTO promo_codes (code, type, value, is_active, start_date, end_date, usage_limit)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + promoColumns

type CreatePromoCodeParams struct {
	Code       string
	Type       PromoType
	Value      pgtype.Numeric
	IsActive   bool
	StartDate  pgtype.Timestamptz
	EndDate    pgtype.Timestamptz
	UsageLimit pgtype.Int4
}

func (q *Queries) CreatePromoCode(ctx context.Context, arg CreatePromoCodeParams) (PromoCode, error) {
	row := q.db.QueryRow(ctx, createPromoCode,
		arg.Code,
		arg.Type,
		arg.Value,
		arg.IsActive,
		arg.StartDate,
		arg.EndDate,
		arg.UsageLimit,
	)
	return scanPromoCode(row)
}

const updatePromoCode = `-- name: UpdatePromoCode :one
UPDATE promo_codes
SET type = $2,
    value = $3,
    is_active = $4,
    start_date = $5,
    end_date = $6,
    usage_limit = $7,
    updated_at = now()
WHERE code = $1
RETURNING ` + promoColumns

type UpdatePromoCodeParams struct {
	Code       string
	Type       PromoType
	Value      pgtype.Numeric
	IsActive   bool
	StartDate  pgtype.Timestamptz
	EndDate    pgtype.Timestamptz
	UsageLimit pgtype.Int4
}

func (q *Queries) UpdatePromoCode(ctx context.Context, arg UpdatePromoCodeParams) (PromoCode, error) {
	row := q.db.QueryRow(ctx, updatePromoCode,
		arg.Code,
		arg.Type,
		arg.Value,
		arg.IsActive,
		arg.StartDate,
		arg.EndDate,
		arg.UsageLimit,
	)
	return scanPromoCode(row)
}

const getPromoCodeByCode = `-- name: GetPromoCodeByCode :one
SELECT ` + promoColumns + `
FROM promo_codes
WHERE code = $1`

func (q *Queries) GetPromoCodeByCode(ctx context.Context, code string) (PromoCode, error) {
	return scanPromoCode(q.db.QueryRow(ctx, getPromoCodeByCode, code))
}

const countPromoCodes = `-- name: CountPromoCodes :one
SELECT count(*) FROM promo_codes`

func (q *Queries) CountPromoCodes(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countPromoCodes).Scan(&count)
	return count, err
}

const listPromoCodes = `-- name: ListPromoCodes :many
SELECT ` + promoColumns + `
FROM promo_codes
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`

type ListPromoCodesParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListPromoCodes(ctx context.Context, arg ListPromoCodesParams) ([]PromoCode, error) {
	rows, err := q.db.Query(ctx, listPromoCodes, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PromoCode
	for rows.Next() {
		i, err := scanPromoCode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const redeemPromoCode = `-- name: RedeemPromoCode :one
UPDATE promo_codes
SET usage_count = usage_count + 1, updated_at = now()
WHERE code = $1
  AND is_active
  AND (start_date IS NULL OR start_date <= $2)
  AND (end_date IS NULL OR end_date >= $2)
  AND (usage_limit IS NULL OR usage_count < usage_limit)
RETURNING ` + promoColumns

type RedeemPromoCodeParams struct {
	Code string
	Now  pgtype.Timestamptz
}

// RedeemPromoCode increments usage only while the code is valid at Now.
// pgx.ErrNoRows means the code was missing or not redeemable.
func (q *Queries) RedeemPromoCode(ctx context.Context, arg RedeemPromoCodeParams) (PromoCode, error) {
	return scanPromoCode(q.db.QueryRow(ctx, redeemPromoCode, arg.Code, arg.Now))
}
