package models

import (
	"time"
)

// FreeListingUsage counts listings ever published on the free quota, per
// listing type. The counters only grow.
type FreeListingUsage struct {
	LongTerm  int `bson:"long_term" json:"long_term"`
	ShortTerm int `bson:"short_term" json:"short_term"`
}

// Used returns the counter for the given listing type.
func (u FreeListingUsage) Used(t ListingType) int {
	if t == ListingTypeShortTerm {
		return u.ShortTerm
	}
	return u.LongTerm
}

// FreeListingsUsedField is the document path of the counter for a listing type.
func FreeListingsUsedField(t ListingType) string {
	if t == ListingTypeShortTerm {
		return "free_listings_used.short_term"
	}
	return "free_listings_used.long_term"
}

// Account is a marketplace user. Identity and credentials live with the
// hosted auth provider; this document carries marketplace state only.
type Account struct {
	Base             `bson:",inline"`
	Email            string           `bson:"email" json:"email"`
	Country          string           `bson:"country,omitempty" json:"country,omitempty"`
	IsEmailVerified  bool             `bson:"is_email_verified" json:"is_email_verified"`
	IsAdmin          bool             `bson:"is_admin" json:"is_admin"`
	FreeListingsUsed FreeListingUsage `bson:"free_listings_used" json:"free_listings_used"`
	FreeListingLimit *int             `bson:"free_listing_limit,omitempty" json:"free_listing_limit,omitempty"` // Per-account override
	PushToken        string           `bson:"push_token,omitempty" json:"-"`                                    // Legacy single-device token
	CreatedAt        time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `bson:"updated_at" json:"updated_at"`
}
