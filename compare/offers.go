// Package compare derives comparison values from the offers of one or more
// books: cheapest and fastest offers, discounts, the best overall pick and
// price trend summaries. Everything here is pure; missing optional fields
// (shipping text, prime flag, rating, recommendation tag) are handled here so
// callers never check for them.
package compare

import (
	"math"
	"strings"

	"github.com/aluiziolira/bookwise/models"
)

// Shipping phrases treated as fast delivery. This is a text heuristic over a
// free-form field, not a delivery-speed guarantee.
var fastShippingMarkers = []string{"1-day", "same day"}

const freeShippingMarker = "free"

// Cheapest returns the offer with the lowest price, the first one on ties.
// It returns nil for an empty slice. The result points into offers.
func Cheapest(offers []models.Offer) *models.Offer {
	var best *models.Offer
	for i := range offers {
		if best == nil || offers[i].Price < best.Price {
			best = &offers[i]
		}
	}
	return best
}

// FastestDelivery returns the first offer whose shipping text mentions
// one-day or same-day delivery, or nil when none does.
func FastestDelivery(offers []models.Offer) *models.Offer {
	for i := range offers {
		if IsFastShipping(offers[i].Shipping) {
			return &offers[i]
		}
	}
	return nil
}

// IsFastShipping reports whether a shipping descriptor looks like
// one-day or same-day delivery.
func IsFastShipping(shipping string) bool {
	text := strings.ToLower(shipping)
	for _, marker := range fastShippingMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// IsFreeShipping reports whether a shipping descriptor mentions free shipping.
func IsFreeShipping(shipping string) bool {
	return strings.Contains(strings.ToLower(shipping), freeShippingMarker)
}

// HasPrime reports whether any offer is a prime listing.
func HasPrime(offers []models.Offer) bool {
	for _, offer := range offers {
		if offer.Prime() {
			return true
		}
	}
	return false
}

// HasFreeShipping reports whether any offer ships for free.
func HasFreeShipping(offers []models.Offer) bool {
	for _, offer := range offers {
		if IsFreeShipping(offer.Shipping) {
			return true
		}
	}
	return false
}

// HasPlatform reports whether any offer is listed on one of platforms.
func HasPlatform(offers []models.Offer, platforms []string) bool {
	for _, offer := range offers {
		for _, platform := range platforms {
			if offer.Platform == platform {
				return true
			}
		}
	}
	return false
}

// DiscountPercent returns the rounded discount from originalPrice to
// currentPrice. ok is false unless both prices are positive and the current
// price is lower.
func DiscountPercent(originalPrice, currentPrice float64) (percent int, ok bool) {
	if originalPrice <= 0 || currentPrice <= 0 || originalPrice <= currentPrice {
		return 0, false
	}
	return int(math.Round(100 * (originalPrice - currentPrice) / originalPrice)), true
}
