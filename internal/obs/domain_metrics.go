package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PromoOutcomesTotal counts promo validations and redemptions by result
	// ("valid" or the rejection reason).
	PromoOutcomesTotal *prometheus.CounterVec
	// CheckoutTotal counts checkout attempts by outcome.
	CheckoutTotal *prometheus.CounterVec
	// ListingPriceDropsTotal counts persisted scheduled price changes.
	ListingPriceDropsTotal prometheus.Counter
	// ListingHoldConflictsTotal counts checkouts rejected because a listing was unavailable.
	ListingHoldConflictsTotal prometheus.Counter
	// OrderTotalAmount records checkout totals in major currency units.
	OrderTotalAmount prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PromoOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_outcomes_total",
			Help:      "Promo code validations and redemptions by result.",
		}, []string{"operation", "result"})
		CheckoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"result"})
		ListingPriceDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_price_drops_total",
			Help:      "Scheduled listing price changes persisted by the sweep.",
		})
		ListingHoldConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_hold_conflicts_total",
			Help:      "Checkouts rejected because a listing was sold or held.",
		})
		OrderTotalAmount = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_total_amount",
			Help:      "Distribution of order totals at checkout.",
			Buckets:   []float64{10, 25, 50, 100, 150, 250, 500, 1000, 2500},
		})

		PromoOutcomesTotal = registerOrReuse(reg, PromoOutcomesTotal)
		CheckoutTotal = registerOrReuse(reg, CheckoutTotal)
		ListingPriceDropsTotal = registerOrReuse(reg, ListingPriceDropsTotal)
		ListingHoldConflictsTotal = registerOrReuse(reg, ListingHoldConflictsTotal)
		OrderTotalAmount = registerOrReuse(reg, OrderTotalAmount)
	})
}

// ObservePromo records a promo outcome when metrics are registered.
func ObservePromo(operation, result string) {
	if PromoOutcomesTotal != nil {
		PromoOutcomesTotal.WithLabelValues(operation, result).Inc()
	}
}

// ObserveCheckout records a checkout outcome when metrics are registered.
func ObserveCheckout(result string) {
	if CheckoutTotal != nil {
		CheckoutTotal.WithLabelValues(result).Inc()
	}
}

// ObserveOrderTotal records an order total.
func ObserveOrderTotal(amount float64) {
	if OrderTotalAmount != nil {
		OrderTotalAmount.Observe(amount)
	}
}

// IncPriceDrops adds n persisted price drops.
func IncPriceDrops(n int) {
	if ListingPriceDropsTotal != nil && n > 0 {
		ListingPriceDropsTotal.Add(float64(n))
	}
}

// IncHoldConflicts counts one unavailable-listing rejection.
func IncHoldConflicts() {
	if ListingHoldConflictsTotal != nil {
		ListingHoldConflictsTotal.Inc()
	}
}
