// Package policy holds the pure pricing and quota rules: which entitlement
// pays for a new listing, and what a stay costs.
package policy

import (
	"fmt"
	"time"

	"lazone/api/internal/apperr"
	"lazone/api/internal/models"
)

// Snapshot is the derived entitlement state of one account for one listing
// type. Subscription credits and purchased credits are separate pools.
type Snapshot struct {
	ListingType                  models.ListingType `json:"listing_type"`
	FreeListingLimit             int                `json:"free_listing_limit"`
	FreeListingsUsed             int                `json:"free_listings_used"`
	RemainingFreeListings        int                `json:"remaining_free_listings"`
	AvailableCredits             int                `json:"available_credits"`
	HasActiveSubscription        bool               `json:"has_active_subscription"`
	SubscriptionType             models.PlanType    `json:"subscription_type,omitempty"`
	SubscriptionCreditsRemaining int                `json:"subscription_credits_remaining"`
	SubscriptionActiveUntil      *time.Time         `json:"subscription_active_until,omitempty"`
}

// RemainingFree is max(0, limit - used).
func RemainingFree(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

// ResolveEntitlementSource picks what pays for the next listing: free quota
// first (it cannot roll over), then subscription allowance, then purchased
// credits. EntitlementNone means payment is required.
func ResolveEntitlementSource(s Snapshot) models.EntitlementSource {
	sources := AvailableSources(s)
	if len(sources) == 0 {
		return models.EntitlementNone
	}
	return sources[0]
}

// AvailableSources lists every usable source in consumption order.
func AvailableSources(s Snapshot) []models.EntitlementSource {
	var out []models.EntitlementSource
	if s.RemainingFreeListings > 0 {
		out = append(out, models.EntitlementFree)
	}
	if s.HasActiveSubscription && s.SubscriptionCreditsRemaining > 0 {
		out = append(out, models.EntitlementSubscriptionCredit)
	}
	if s.AvailableCredits > 0 {
		out = append(out, models.EntitlementPurchasedCredit)
	}
	return out
}

// NeedsPayment is true iff no free quota, subscription allowance or
// purchased credit is left.
func NeedsPayment(s Snapshot) bool {
	return ResolveEntitlementSource(s) == models.EntitlementNone
}

// Consume returns the snapshot after one unit of src has been used.
func Consume(s Snapshot, src models.EntitlementSource) (Snapshot, error) {
	switch src {
	case models.EntitlementFree:
		if s.RemainingFreeListings <= 0 {
			break
		}
		s.RemainingFreeListings--
		s.FreeListingsUsed++
		return s, nil
	case models.EntitlementSubscriptionCredit:
		if !s.HasActiveSubscription || s.SubscriptionCreditsRemaining <= 0 {
			break
		}
		s.SubscriptionCreditsRemaining--
		return s, nil
	case models.EntitlementPurchasedCredit:
		if s.AvailableCredits <= 0 {
			break
		}
		s.AvailableCredits--
		return s, nil
	}
	return s, apperr.New(apperr.KindEntitlementExhausted, "", fmt.Sprintf("entitlement source %q has nothing left", src))
}
