package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/treasurehub/treasurehub-api/internal/common"
	"github.com/treasurehub/treasurehub-api/internal/db"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
)

// ErrNotFound indicates the requested listing does not exist.
var ErrNotFound = errors.New("listing not found")

type queryProvider interface {
	CreateListing(ctx context.Context, arg dbgen.CreateListingParams) (dbgen.Listing, error)
	UpdateListing(ctx context.Context, arg dbgen.UpdateListingParams) (dbgen.Listing, error)
	GetListing(ctx context.Context, id pgtype.UUID) (dbgen.Listing, error)
	GetListingBySlug(ctx context.Context, slug string) (dbgen.Listing, error)
	ListListings(ctx context.Context, arg dbgen.ListListingsParams) ([]dbgen.Listing, error)
	CountListings(ctx context.Context, status string) (int64, error)
}

// Service orchestrates listing queries, price decoration, and caching.
type Service struct {
	queries      queryProvider
	cache        *Cache
	now          func() time.Time
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Queries      queryProvider
	Cache        *Cache
	Now          func() time.Time
	DefaultLimit int
	MaxLimit     int
}

// ListParams captures filters for listing pages.
type ListParams struct {
	Status string
	Page   int
	Limit  int
}

// ListingView is the public listing payload. Prices are evaluated at request
// time; the reserve price is never exposed here.
type ListingView struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Slug              string     `json:"slug"`
	Description       string     `json:"description,omitempty"`
	ListPrice         float64    `json:"listPrice"`
	EffectivePrice    float64    `json:"effectivePrice"`
	NextDropPrice     *float64   `json:"nextDropPrice,omitempty"`
	NextDropAt        *time.Time `json:"nextDropAt,omitempty"`
	TimeUntilNextDrop string     `json:"timeUntilNextDrop,omitempty"`
	DiscountSchedule  string     `json:"discountSchedule,omitempty"`
	DeliveryCategory  string     `json:"deliveryCategory"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// AdminListingView adds seller-only fields.
type AdminListingView struct {
	ListingView
	ReservePrice *float64 `json:"reservePrice,omitempty"`
	StoredPrice  float64  `json:"storedPrice"`
}

// ListResult contains list data and pagination metadata.
type ListResult struct {
	Items []ListingView
	Total int64
	Page  int
	Limit int
}

// record is the cacheable, time-independent part of a listing.
type record struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Slug              string    `json:"slug"`
	Description       string    `json:"description,omitempty"`
	PriceCents        int64     `json:"priceCents"`
	ReservePriceCents *int64    `json:"reservePriceCents,omitempty"`
	DiscountSchedule  string    `json:"discountSchedule,omitempty"`
	DeliveryCategory  string    `json:"deliveryCategory"`
	Status            string    `json:"status"`
	CurrentPriceCents int64     `json:"currentPriceCents"`
	CreatedAt         time.Time `json:"createdAt"`
}

type cachedList struct {
	Items []record `json:"items"`
	Total int64    `json:"total"`
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Queries == nil {
		return nil, errors.New("catalog: queries provider is required")
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		queries:      cfg.Queries,
		cache:        cfg.Cache,
		now:          now,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// PricingListing converts stored listing columns into calculator input.
func PricingListing(priceCents int64, reserve pgtype.Int8, schedule pgtype.Text, createdAt pgtype.Timestamptz) pricing.Listing {
	l := pricing.Listing{
		ListPrice: pricing.FromCents(priceCents),
		CreatedAt: createdAt.Time,
	}
	if reserve.Valid {
		r := pricing.FromCents(reserve.Int64)
		l.ReservePrice = &r
	}
	if schedule.Valid {
		l.Schedule = schedule.String
	}
	return l
}

// List returns a page of listings with prices evaluated at the current time.
func (s *Service) List(ctx context.Context, params ListParams) (ListResult, error) {
	if params.Limit < 1 {
		params.Limit = s.defaultLimit
	}
	if params.Limit > s.maxLimit {
		params.Limit = s.maxLimit
	}
	if params.Page < 1 {
		params.Page = 1
	}
	status := strings.ToUpper(strings.TrimSpace(params.Status))
	switch dbgen.ListingStatus(status) {
	case "", dbgen.ListingStatusActive, dbgen.ListingStatusHeld, dbgen.ListingStatusSold, dbgen.ListingStatusArchived:
	default:
		return ListResult{}, badRequest("status", "unknown listing status", nil)
	}

	key := fmt.Sprintf("catalog:listings:v%s:%s:%d:%d", s.cache.Version(ctx), status, params.Page, params.Limit)
	var cached cachedList
	if ok, err := s.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return s.listResult(cached, params), nil
	}

	rows, err := s.queries.ListListings(ctx, dbgen.ListListingsParams{
		Status: status,
		Limit:  int32(params.Limit),
		Offset: common.Offset(params.Page, params.Limit),
	})
	if err != nil {
		return ListResult{}, err
	}
	total, err := s.queries.CountListings(ctx, status)
	if err != nil {
		return ListResult{}, err
	}
	cached = cachedList{Items: make([]record, 0, len(rows)), Total: total}
	for _, row := range rows {
		cached.Items = append(cached.Items, toRecord(row))
	}
	_ = s.cache.SetJSON(ctx, key, cached)
	return s.listResult(cached, params), nil
}

// Get loads a listing by id or slug.
func (s *Service) Get(ctx context.Context, idOrSlug string) (ListingView, error) {
	rec, err := s.load(ctx, idOrSlug)
	if err != nil {
		return ListingView{}, err
	}
	return s.view(rec), nil
}

// GetAdmin loads a listing including its reserve price.
func (s *Service) GetAdmin(ctx context.Context, id string) (AdminListingView, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return AdminListingView{}, err
	}
	return s.adminView(rec), nil
}

func (s *Service) load(ctx context.Context, idOrSlug string) (record, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return record{}, badRequest("id", "listing id is required", nil)
	}
	parsed, parseErr := uuid.Parse(idOrSlug)
	if parseErr != nil {
		row, err := s.queries.GetListingBySlug(ctx, idOrSlug)
		if err != nil {
			return record{}, notFoundOr(err)
		}
		return toRecord(row), nil
	}

	id := parsed.String()
	var rec record
	if ok, err := s.cache.GetJSON(ctx, detailCacheKey(id), &rec); err == nil && ok {
		return rec, nil
	}
	row, err := s.queries.GetListing(ctx, pgtype.UUID{Bytes: parsed, Valid: true})
	if err != nil {
		return record{}, notFoundOr(err)
	}
	rec = toRecord(row)
	_ = s.cache.SetJSON(ctx, detailCacheKey(id), rec)
	return rec, nil
}

// ListingInput carries the admin-editable listing fields.
type ListingInput struct {
	Title            string           `json:"title" validate:"required,max=200"`
	Slug             string           `json:"slug" validate:"omitempty,max=200"`
	Description      string           `json:"description" validate:"max=5000"`
	Price            decimal.Decimal  `json:"price"`
	ReservePrice     *decimal.Decimal `json:"reservePrice"`
	DiscountSchedule string           `json:"discountSchedule" validate:"omitempty,max=40"`
	DeliveryCategory string           `json:"deliveryCategory" validate:"omitempty,oneof=NORMAL BULK"`
	SellerID         string           `json:"sellerId" validate:"omitempty,uuid"`
}

func (in ListingInput) normalize() (ListingInput, *common.AppError) {
	if appErr := common.ValidateStruct(in); appErr != nil {
		return in, appErr
	}
	in.Price = pricing.Round2(in.Price)
	if !in.Price.IsPositive() {
		return in, badRequest("price", "price must be positive", nil)
	}
	if in.ReservePrice != nil {
		reserve := pricing.Round2(*in.ReservePrice)
		if reserve.IsNegative() {
			return in, badRequest("reservePrice", "reservePrice must not be negative", nil)
		}
		if reserve.GreaterThan(in.Price) {
			return in, badRequest("reservePrice", "reservePrice must not exceed price", nil)
		}
		in.ReservePrice = &reserve
	}
	if in.DiscountSchedule != "" {
		sched, ok := pricing.LookupSchedule(in.DiscountSchedule)
		if !ok {
			return in, badRequest("discountSchedule", "unknown discount schedule", nil).
				WithDetails(map[string]any{"field": "discountSchedule", "allowed": pricing.ScheduleNames()})
		}
		in.DiscountSchedule = sched.Name
	}
	if in.DeliveryCategory == "" {
		in.DeliveryCategory = string(dbgen.DeliveryCategoryNormal)
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Slug = slugify(in.Slug)
	if in.Slug == "" {
		in.Slug = slugify(in.Title)
	}
	if in.Slug == "" {
		return in, badRequest("slug", "slug could not be derived from title", nil)
	}
	return in, nil
}

// Create validates and stores a new listing.
func (s *Service) Create(ctx context.Context, in ListingInput) (AdminListingView, error) {
	in, appErr := in.normalize()
	if appErr != nil {
		return AdminListingView{}, appErr
	}
	params := dbgen.CreateListingParams{
		Title:             in.Title,
		Slug:              in.Slug,
		Description:       optionalText(in.Description),
		PriceCents:        pricing.ToCents(in.Price),
		ReservePriceCents: optionalCents(in.ReservePrice),
		DiscountSchedule:  optionalText(in.DiscountSchedule),
		DeliveryCategory:  dbgen.DeliveryCategory(in.DeliveryCategory),
	}
	if in.SellerID != "" {
		seller, err := common.ToUUID(in.SellerID)
		if err != nil {
			return AdminListingView{}, badRequest("sellerId", "sellerId must be a uuid", err)
		}
		params.SellerID = seller
	}
	row, err := s.queries.CreateListing(ctx, params)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return AdminListingView{}, common.Conflict("SLUG_TAKEN", "a listing with this slug already exists")
		}
		return AdminListingView{}, err
	}
	_ = s.cache.Invalidate(ctx)
	return s.adminView(toRecord(row)), nil
}

// Update replaces the editable fields of an unsold listing.
func (s *Service) Update(ctx context.Context, id string, in ListingInput) (AdminListingView, error) {
	listingID, err := common.ToUUID(id)
	if err != nil {
		return AdminListingView{}, badRequest("id", "listing id must be a uuid", err)
	}
	in, appErr := in.normalize()
	if appErr != nil {
		return AdminListingView{}, appErr
	}
	row, err := s.queries.UpdateListing(ctx, dbgen.UpdateListingParams{
		ID:                listingID,
		Title:             in.Title,
		Description:       optionalText(in.Description),
		PriceCents:        pricing.ToCents(in.Price),
		ReservePriceCents: optionalCents(in.ReservePrice),
		DiscountSchedule:  optionalText(in.DiscountSchedule),
		DeliveryCategory:  dbgen.DeliveryCategory(in.DeliveryCategory),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AdminListingView{}, common.NotFound("NOT_FOUND", "listing not found or already sold")
		}
		return AdminListingView{}, err
	}
	_ = s.cache.Invalidate(ctx, common.UUIDString(listingID))
	return s.adminView(toRecord(row)), nil
}

func (s *Service) listResult(c cachedList, params ListParams) ListResult {
	items := make([]ListingView, 0, len(c.Items))
	for _, rec := range c.Items {
		items = append(items, s.view(rec))
	}
	return ListResult{Items: items, Total: c.Total, Page: params.Page, Limit: params.Limit}
}

func (s *Service) view(rec record) ListingView {
	now := s.now()
	l := rec.pricing()
	v := ListingView{
		ID:               rec.ID,
		Title:            rec.Title,
		Slug:             rec.Slug,
		Description:      rec.Description,
		ListPrice:        pricing.Float(l.ListPrice),
		EffectivePrice:   pricing.Float(pricing.EffectivePrice(l, now)),
		DiscountSchedule: rec.DiscountSchedule,
		DeliveryCategory: rec.DeliveryCategory,
		Status:           rec.Status,
		CreatedAt:        rec.CreatedAt,
	}
	if next := pricing.NextDropPrice(l, now); next != nil {
		f := pricing.Float(*next)
		v.NextDropPrice = &f
	}
	if drop := pricing.TimeUntilNextDrop(l, now); drop != nil {
		at := drop.At
		v.NextDropAt = &at
		v.TimeUntilNextDrop = drop.Label
	}
	return v
}

func (s *Service) adminView(rec record) AdminListingView {
	v := AdminListingView{ListingView: s.view(rec), StoredPrice: pricing.Float(pricing.FromCents(rec.CurrentPriceCents))}
	if rec.ReservePriceCents != nil {
		f := pricing.Float(pricing.FromCents(*rec.ReservePriceCents))
		v.ReservePrice = &f
	}
	return v
}

func (r record) pricing() pricing.Listing {
	l := pricing.Listing{
		ListPrice: pricing.FromCents(r.PriceCents),
		Schedule:  r.DiscountSchedule,
		CreatedAt: r.CreatedAt,
	}
	if r.ReservePriceCents != nil {
		reserve := pricing.FromCents(*r.ReservePriceCents)
		l.ReservePrice = &reserve
	}
	return l
}

func toRecord(row dbgen.Listing) record {
	rec := record{
		ID:                common.UUIDString(row.ID),
		Title:             row.Title,
		Slug:              row.Slug,
		PriceCents:        row.PriceCents,
		DeliveryCategory:  string(row.DeliveryCategory),
		Status:            string(row.Status),
		CurrentPriceCents: row.CurrentPriceCents,
		CreatedAt:         row.CreatedAt.Time,
	}
	if row.Description.Valid {
		rec.Description = row.Description.String
	}
	if row.ReservePriceCents.Valid {
		reserve := row.ReservePriceCents.Int64
		rec.ReservePriceCents = &reserve
	}
	if row.DiscountSchedule.Valid {
		rec.DiscountSchedule = row.DiscountSchedule.String
	}
	return rec
}

func optionalText(v string) pgtype.Text {
	if strings.TrimSpace(v) == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

func optionalCents(d *decimal.Decimal) pgtype.Int8 {
	if d == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: pricing.ToCents(*d), Valid: true}
}

func slugify(v string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(v)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NewAppError("NOT_FOUND", "listing not found", http.StatusNotFound, ErrNotFound)
	}
	return err
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details: map[string]any{
			"field": field,
		},
	}
}
