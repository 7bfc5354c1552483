package models

import (
	"time"

	"lazone/api/internal/utils"
)

// ListingType distinguishes sale/long rentals from nightly residence stays.
type ListingType string

const (
	ListingTypeLongTerm  ListingType = "long_term"
	ListingTypeShortTerm ListingType = "short_term"
)

// Valid reports whether t is a known listing type.
func (t ListingType) Valid() bool {
	return t == ListingTypeLongTerm || t == ListingTypeShortTerm
}

// EntitlementSource records what paid for a listing's activation.
type EntitlementSource string

const (
	EntitlementNone               EntitlementSource = "none"
	EntitlementFree               EntitlementSource = "free"
	EntitlementSubscriptionCredit EntitlementSource = "subscription_credit"
	EntitlementPurchasedCredit    EntitlementSource = "purchased_credit"
	EntitlementPayment            EntitlementSource = "payment"
)

// DiscountTier is a nightly-rate reduction applied from a stay length.
type DiscountTier struct {
	Nights  int     `bson:"nights" json:"nights"`
	Percent float64 `bson:"percent" json:"percent"`
}

// Listing is a property offered for sale, rent or short stays.
type Listing struct {
	ID                utils.SixID       `bson:"_id,omitempty" json:"id,omitempty"`
	OwnerID           utils.SixID       `bson:"owner_id" json:"owner_id"`
	Title             string            `bson:"title" json:"title"`
	Description       string            `bson:"description" json:"description"`
	ListingType       ListingType       `bson:"listing_type" json:"listing_type"`
	Price             float64           `bson:"price" json:"price"`
	Currency          string            `bson:"currency" json:"currency"`
	PricePerNight     float64           `bson:"price_per_night,omitempty" json:"price_per_night,omitempty"`
	MinimumStay       int               `bson:"minimum_stay,omitempty" json:"minimum_stay,omitempty"`
	DiscountTiers     []DiscountTier    `bson:"discount_tiers,omitempty" json:"discount_tiers,omitempty"`
	City              string            `bson:"city,omitempty" json:"city,omitempty"`
	Country           string            `bson:"country,omitempty" json:"country,omitempty"`
	Images            []string          `bson:"images" json:"images"` // S3 keys
	IsActive          bool              `bson:"is_active" json:"is_active"`
	EntitlementSource EntitlementSource `bson:"entitlement_source,omitempty" json:"entitlement_source,omitempty"`
	PublishedAt       *time.Time        `bson:"published_at,omitempty" json:"published_at,omitempty"`
	ActivatedAt       *time.Time        `bson:"activated_at,omitempty" json:"activated_at,omitempty"`
	PublishClaimedAt  *time.Time        `bson:"publish_claimed_at,omitempty" json:"-"` // Held while a publish consumes an entitlement
	CreatedAt         time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `bson:"updated_at" json:"updated_at"`
	Deleted           bool              `bson:"deleted" json:"-"` // Admin-only soft delete
}

// EffectiveMinimumStay returns the minimum stay, defaulting to one night.
func (l *Listing) EffectiveMinimumStay() int {
	if l.MinimumStay < 1 {
		return 1
	}
	return l.MinimumStay
}
