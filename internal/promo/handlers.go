package promo

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/db"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
)

// AdminQuerier captures the queries behind promo administration.
type AdminQuerier interface {
	CreatePromoCode(ctx context.Context, arg dbgen.CreatePromoCodeParams) (dbgen.PromoCode, error)
	UpdatePromoCode(ctx context.Context, arg dbgen.UpdatePromoCodeParams) (dbgen.PromoCode, error)
	GetPromoCodeByCode(ctx context.Context, code string) (dbgen.PromoCode, error)
	ListPromoCodes(ctx context.Context, arg dbgen.ListPromoCodesParams) ([]dbgen.PromoCode, error)
	CountPromoCodes(ctx context.Context) (int64, error)
}

// Handler exposes public validation and administrative promo endpoints.
type Handler struct {
	Q   AdminQuerier
	Svc *Service
}

type promoPayload struct {
	Code       string          `json:"code" validate:"required,max=64"`
	Type       string          `json:"type" validate:"required,oneof=percentage fixed_amount free_shipping"`
	Value      decimal.Decimal `json:"value"`
	IsActive   *bool           `json:"isActive"`
	StartDate  *time.Time      `json:"startDate"`
	EndDate    *time.Time      `json:"endDate"`
	UsageLimit *int32          `json:"usageLimit" validate:"omitempty,gte=0"`
}

type validateRequest struct {
	Code       string          `json:"code" validate:"required,max=64"`
	OrderTotal decimal.Decimal `json:"orderTotal"`
}

type validateResponse struct {
	Valid    bool    `json:"valid"`
	Reason   Reason  `json:"reason,omitempty"`
	Message  string  `json:"message,omitempty"`
	Code     string  `json:"code"`
	Type     Type    `json:"type,omitempty"`
	Discount float64 `json:"discount"`
}

type promoResponse struct {
	Code       string     `json:"code"`
	Type       Type       `json:"type"`
	Value      float64    `json:"value"`
	IsActive   bool       `json:"isActive"`
	StartDate  *time.Time `json:"startDate,omitempty"`
	EndDate    *time.Time `json:"endDate,omitempty"`
	UsageLimit *int32     `json:"usageLimit,omitempty"`
	UsageCount int32      `json:"usageCount"`
}

// Validate reports whether a code applies to an order total. Rejections are
// returned with 200 and a typed reason so clients can show the message.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.WriteError(w, common.Internal(errors.New("promo service not configured")))
		return
	}
	var req validateRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	if appErr := common.ValidateStruct(req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	if req.OrderTotal.IsNegative() {
		common.WriteError(w, common.BadRequest("INVALID_ORDER_TOTAL", "orderTotal must not be negative"))
		return
	}
	res, err := h.Svc.Validate(r.Context(), req.Code, req.OrderTotal)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("promo_validate_failed")
		common.WriteError(w, common.Internal(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toValidateResponse(res)})
}

// Create inserts a new promo code.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.WriteError(w, common.Internal(errors.New("promo queries not configured")))
		return
	}
	payload, appErr := decodePayload(r)
	if appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	params, appErr := buildCreateParams(payload)
	if appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	row, err := h.Q.CreatePromoCode(r.Context(), params)
	if err != nil {
		if db.IsUniqueViolation(err) {
			common.WriteError(w, common.Conflict("PROMO_EXISTS", "promo code already exists"))
			return
		}
		common.WriteError(w, common.Internal(err))
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toPromoResponse(row)})
}

// Update replaces the mutable fields of a promo code. Usage count is never
// touched here.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.WriteError(w, common.Internal(errors.New("promo queries not configured")))
		return
	}
	code := Normalize(chi.URLParam(r, "code"))
	if code == "" {
		common.WriteError(w, common.BadRequest("BAD_REQUEST", "code is required"))
		return
	}
	payload, appErr := decodePayload(r)
	if appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	payload.Code = code
	params, appErr := buildCreateParams(payload)
	if appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	row, err := h.Q.UpdatePromoCode(r.Context(), dbgen.UpdatePromoCodeParams(params))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.WriteError(w, common.NotFound("NOT_FOUND", "promo code not found"))
			return
		}
		if db.IsCheckViolation(err) {
			common.WriteError(w, common.Conflict("USAGE_LIMIT_BELOW_COUNT", "usage limit is below current usage"))
			return
		}
		common.WriteError(w, common.Internal(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toPromoResponse(row)})
}

// Get returns one promo code by code.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.WriteError(w, common.Internal(errors.New("promo queries not configured")))
		return
	}
	row, err := h.Q.GetPromoCodeByCode(r.Context(), Normalize(chi.URLParam(r, "code")))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			common.WriteError(w, common.NotFound("NOT_FOUND", "promo code not found"))
			return
		}
		common.WriteError(w, common.Internal(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toPromoResponse(row)})
}

// List pages through promo codes, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Q == nil {
		common.WriteError(w, common.Internal(errors.New("promo queries not configured")))
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	total, err := h.Q.CountPromoCodes(r.Context())
	if err != nil {
		common.WriteError(w, common.Internal(err))
		return
	}
	rows, err := h.Q.ListPromoCodes(r.Context(), dbgen.ListPromoCodesParams{
		Limit:  int32(perPage),
		Offset: common.Offset(page, perPage),
	})
	if err != nil {
		common.WriteError(w, common.Internal(err))
		return
	}
	out := make([]promoResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPromoResponse(row))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out, "pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)}})
}

func decodePayload(r *http.Request) (promoPayload, *common.AppError) {
	var payload promoPayload
	if appErr := common.DecodeJSON(r, &payload); appErr != nil {
		return payload, appErr
	}
	return payload, nil
}

func buildCreateParams(payload promoPayload) (dbgen.CreatePromoCodeParams, *common.AppError) {
	if appErr := common.ValidateStruct(payload); appErr != nil {
		return dbgen.CreatePromoCodeParams{}, appErr
	}
	code := Normalize(payload.Code)
	if !WellFormed(code) {
		return dbgen.CreatePromoCodeParams{}, common.BadRequest("INVALID_CODE", "code must be 3 to 32 letters or digits")
	}
	kind := Type(payload.Type)
	value := pricing.Round2(payload.Value)
	if value.IsNegative() {
		return dbgen.CreatePromoCodeParams{}, common.BadRequest("INVALID_VALUE", "value must not be negative")
	}
	switch kind {
	case TypePercentage:
		if value.IsZero() || value.GreaterThan(decimal.NewFromInt(100)) {
			return dbgen.CreatePromoCodeParams{}, common.BadRequest("INVALID_VALUE", "percentage must be between 0 and 100")
		}
	case TypeFixedAmount:
		if value.IsZero() {
			return dbgen.CreatePromoCodeParams{}, common.BadRequest("INVALID_VALUE", "fixed amount must be positive")
		}
	case TypeFreeShipping:
		value = decimal.Zero
	}
	if payload.StartDate != nil && payload.EndDate != nil && payload.EndDate.Before(*payload.StartDate) {
		return dbgen.CreatePromoCodeParams{}, common.BadRequest("INVALID_WINDOW", "endDate must not be before startDate")
	}
	active := true
	if payload.IsActive != nil {
		active = *payload.IsActive
	}
	usageLimit := pgtype.Int4{}
	if payload.UsageLimit != nil {
		usageLimit = pgtype.Int4{Int32: *payload.UsageLimit, Valid: true}
	}
	return dbgen.CreatePromoCodeParams{
		Code:       code,
		Type:       dbgen.PromoType(kind),
		Value:      db.NumericFromDecimal(value),
		IsActive:   active,
		StartDate:  timeToNullable(payload.StartDate),
		EndDate:    timeToNullable(payload.EndDate),
		UsageLimit: usageLimit,
	}, nil
}

func timeToNullable(v *time.Time) pgtype.Timestamptz {
	if v == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *v, Valid: true}
}

func toValidateResponse(res Result) validateResponse {
	return validateResponse{
		Valid:    res.Valid,
		Reason:   res.Reason,
		Message:  res.Message,
		Code:     res.Code,
		Type:     res.Type,
		Discount: pricing.Float(res.Discount),
	}
}

func toPromoResponse(row dbgen.PromoCode) promoResponse {
	c := CodeFromModel(row)
	return promoResponse{
		Code:       c.Code,
		Type:       c.Type,
		Value:      pricing.Float(c.Value),
		IsActive:   c.IsActive,
		StartDate:  c.StartDate,
		EndDate:    c.EndDate,
		UsageLimit: c.UsageLimit,
		UsageCount: c.UsageCount,
	}
}
