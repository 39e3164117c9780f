package events

// Topic constants for domain events emitted by the storefront.
const (
	TopicOrderCreated        = "order.created"
	TopicOrderPaid           = "order.paid"
	TopicOrderCanceled       = "order.canceled"
	TopicPromoRedeemed       = "promo.redeemed"
	TopicListingHeld         = "listing.held"
	TopicListingPriceDropped = "listing.price_dropped"
)

// DefaultTopics returns every topic the worker fans out.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderCanceled,
		TopicPromoRedeemed,
		TopicListingHeld,
		TopicListingPriceDropped,
	}
}

// Known reports whether topic is one of DefaultTopics.
func Known(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
