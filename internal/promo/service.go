package promo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/treasurehub/treasurehub-api/internal/db"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/obs"
)

// Querier captures the database methods required by the promo service.
type Querier interface {
	GetPromoCodeByCode(ctx context.Context, code string) (dbgen.PromoCode, error)
	RedeemPromoCode(ctx context.Context, arg dbgen.RedeemPromoCodeParams) (dbgen.PromoCode, error)
}

// Service looks up promo codes and redeems them atomically.
type Service struct {
	Q   Querier
	Now func() time.Time
	Log zerolog.Logger
}

// Lookup loads a code by its normalized form. A missing code returns (nil, nil).
func (s *Service) Lookup(ctx context.Context, q Querier, code string) (*Code, error) {
	if q == nil {
		return nil, errors.New("promo service not configured")
	}
	normalized := Normalize(code)
	if normalized == "" {
		return nil, nil
	}
	row, err := q.GetPromoCodeByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load promo code: %w", err)
	}
	c := CodeFromModel(row)
	return &c, nil
}

// Validate checks a code against orderTotal without consuming a use.
func (s *Service) Validate(ctx context.Context, code string, orderTotal decimal.Decimal) (Result, error) {
	if s == nil {
		return Result{}, errors.New("promo service not configured")
	}
	c, err := s.Lookup(ctx, s.Q, code)
	if err != nil {
		return Result{}, err
	}
	res := Validate(c, orderTotal, s.now())
	if c == nil {
		res.Code = Normalize(code)
	}
	obs.ObservePromo("validate", resultLabel(res))
	return res, nil
}

// Redeem validates and consumes one use in a single conditional update, so
// concurrent redemptions can never push usage past the limit. Pass a
// transaction-bound q to make the redemption part of a larger unit of work;
// nil uses the service's own querier. A rejected code is reported through
// Result, not the error.
func (s *Service) Redeem(ctx context.Context, q Querier, code string, orderTotal decimal.Decimal) (Result, error) {
	if s == nil {
		return Result{}, errors.New("promo service not configured")
	}
	if q == nil {
		q = s.Q
	}
	if q == nil {
		return Result{}, errors.New("promo service not configured")
	}
	normalized := Normalize(code)
	if normalized == "" {
		return Rejected(normalized, ReasonNotFound), nil
	}
	now := s.now()
	row, err := q.RedeemPromoCode(ctx, dbgen.RedeemPromoCodeParams{
		Code: normalized,
		Now:  pgtype.Timestamptz{Time: now, Valid: true},
	})
	if err == nil {
		c := CodeFromModel(row)
		res := Result{Valid: true, Code: c.Code, Type: c.Type, Discount: c.Discount(orderTotal)}
		obs.ObservePromo("redeem", resultLabel(res))
		s.Log.Info().Str("code", c.Code).Int32("usage_count", c.UsageCount).Msg("promo_redeemed")
		return res, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Result{}, fmt.Errorf("redeem promo code: %w", err)
	}
	res, err := s.classify(ctx, q, normalized, now)
	if err != nil {
		return Result{}, err
	}
	obs.ObservePromo("redeem", resultLabel(res))
	return res, nil
}

// classify explains why the conditional update matched no row.
func (s *Service) classify(ctx context.Context, q Querier, code string, now time.Time) (Result, error) {
	c, err := s.Lookup(ctx, q, code)
	if err != nil {
		return Result{}, err
	}
	if c == nil {
		return Rejected(code, ReasonNotFound), nil
	}
	reason := c.Check(now)
	if reason == ReasonNone {
		// the last use was taken between the update and this read
		reason = ReasonLimitReached
	}
	res := Rejected(c.Code, reason)
	res.Type = c.Type
	return res, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func resultLabel(res Result) string {
	if res.Valid {
		return "valid"
	}
	return string(res.Reason)
}

// CodeFromModel converts the stored row into the evaluation form.
func CodeFromModel(p dbgen.PromoCode) Code {
	c := Code{
		Code:       p.Code,
		Type:       Type(p.Type),
		Value:      db.DecimalFromNumeric(p.Value),
		IsActive:   p.IsActive,
		UsageCount: p.UsageCount,
	}
	if p.StartDate.Valid {
		start := p.StartDate.Time
		c.StartDate = &start
	}
	if p.EndDate.Valid {
		end := p.EndDate.Time
		c.EndDate = &end
	}
	if p.UsageLimit.Valid {
		l := p.UsageLimit.Int32
		c.UsageLimit = &l
	}
	return c
}
