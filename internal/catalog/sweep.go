package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/common"
	dbgen "github.com/treasurehub/treasurehub-api/internal/db/gen"
	"github.com/treasurehub/treasurehub-api/internal/events"
	"github.com/treasurehub/treasurehub-api/internal/obs"
	"github.com/treasurehub/treasurehub-api/internal/pricing"
)

// SweepQuerier is the persistence surface of the price-drop sweep.
type SweepQuerier interface {
	ListScheduledListings(ctx context.Context, arg dbgen.ListScheduledListingsParams) ([]dbgen.Listing, error)
	UpdateListingCurrentPrice(ctx context.Context, arg dbgen.UpdateListingCurrentPriceParams) (int64, error)
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID pgtype.UUID, payload any) (dbgen.DomainEvent, error)
}

// Sweeper persists the decayed price of scheduled listings so that stored
// prices and search indexes follow the schedule between page views.
type Sweeper struct {
	Q         SweepQuerier
	Events    Emitter
	Cache     *Cache
	Now       func() time.Time
	BatchSize int
	Log       zerolog.Logger
}

// SweepResult summarises one sweep run.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Dropped int `json:"dropped"`
}

type priceDroppedPayload struct {
	ListingID      string  `json:"listingId"`
	PreviousPrice  float64 `json:"previousPrice"`
	EffectivePrice float64 `json:"effectivePrice"`
	Schedule       string  `json:"schedule"`
	Day            int     `json:"day"`
}

// Run walks every scheduled listing once.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if s == nil || s.Q == nil {
		return res, errors.New("catalog: sweep querier is required")
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = 200
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	at := now()
	var changed []string
	for offset := 0; ; offset += batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := s.Q.ListScheduledListings(ctx, dbgen.ListScheduledListingsParams{
			Limit:  int32(batch),
			Offset: int32(offset),
		})
		if err != nil {
			return res, err
		}
		for _, row := range rows {
			res.Scanned++
			l := PricingListing(row.PriceCents, row.ReservePriceCents, row.DiscountSchedule, row.CreatedAt)
			effective := pricing.EffectivePrice(l, at)
			cents := pricing.ToCents(effective)
			if cents == row.CurrentPriceCents {
				continue
			}
			n, err := s.Q.UpdateListingCurrentPrice(ctx, dbgen.UpdateListingCurrentPriceParams{
				ID:                row.ID,
				CurrentPriceCents: cents,
			})
			if err != nil {
				return res, err
			}
			if n == 0 {
				continue
			}
			res.Dropped++
			id := common.UUIDString(row.ID)
			changed = append(changed, id)
			if s.Events != nil {
				payload := priceDroppedPayload{
					ListingID:      id,
					PreviousPrice:  pricing.Float(pricing.FromCents(row.CurrentPriceCents)),
					EffectivePrice: pricing.Float(effective),
					Schedule:       l.Schedule,
					Day:            pricing.DaysSinceCreation(l.CreatedAt, at),
				}
				if _, err := s.Events.Emit(ctx, events.TopicListingPriceDropped, row.ID, payload); err != nil {
					s.Log.Warn().Err(err).Str("listing_id", id).Msg("emit price drop")
				}
			}
		}
		if len(rows) < batch {
			break
		}
	}
	obs.IncPriceDrops(res.Dropped)
	if len(changed) > 0 {
		if err := s.Cache.Invalidate(ctx, changed...); err != nil {
			s.Log.Warn().Err(err).Msg("invalidate catalog cache")
		}
	}
	s.Log.Info().Int("scanned", res.Scanned).Int("dropped", res.Dropped).Msg("price drop sweep finished")
	return res, nil
}
