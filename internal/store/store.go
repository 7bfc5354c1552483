// Package store is the persistence layer for accounts, listings, payments,
// entitlements, bookings and device tokens. Every mutation that grants or
// consumes something is a single conditional write: the condition is the
// state the caller read, so concurrent reconciliations cannot double-grant.
package store

import (
	"context"
	"errors"
	"time"

	"lazone/api/internal/models"
	"lazone/api/internal/utils"
)

// ErrNotFound is returned when the requested document does not exist.
var ErrNotFound = errors.New("store: not found")

// Collection names.
const (
	AccountsCollection        = "users"
	ListingsCollection        = "listings"
	PaymentsCollection        = "payments"
	CreditPurchasesCollection = "credit_purchases"
	SubscriptionsCollection   = "subscriptions"
	BookingsCollection        = "bookings"
	BlockedDatesCollection    = "blocked_dates"
	DeviceTokensCollection    = "device_tokens"
	CalendarsCollection       = "calendars"
)

// Accounts persists account state.
type Accounts interface {
	GetAccount(ctx context.Context, id utils.SixID) (*models.Account, error)
	UpsertAccount(ctx context.Context, account *models.Account) error
	// SetFreeListingLimit sets or, with nil, clears the per-account quota
	// override without touching the usage counters.
	SetFreeListingLimit(ctx context.Context, id utils.SixID, limit *int) error
	// ConsumeFreeListing increments the free counter for listingType only
	// while it is below limit. It reports whether a unit was consumed.
	ConsumeFreeListing(ctx context.Context, id utils.SixID, listingType models.ListingType, limit int) (bool, error)
}

// Listings persists listings.
type Listings interface {
	InsertListing(ctx context.Context, listing *models.Listing) error
	// GetListing returns a listing that has not been deleted.
	GetListing(ctx context.Context, id utils.SixID) (*models.Listing, error)
	ListListingsByOwner(ctx context.Context, owner utils.SixID) ([]models.Listing, error)
	// UpdateListing applies set to a listing owned by owner.
	UpdateListing(ctx context.Context, id, owner utils.SixID, set map[string]interface{}) (*models.Listing, error)
	MarkListingPublished(ctx context.Context, id, owner utils.SixID, at time.Time) error
	// ClaimListingPublish marks an inactive listing as being published by
	// the caller. It reports false when the listing is already active or
	// another claim newer than staleBefore is held.
	ClaimListingPublish(ctx context.Context, id, owner utils.SixID, at, staleBefore time.Time) (bool, error)
	// ReleaseListingClaim drops the claim taken at at, if it is still held.
	ReleaseListingClaim(ctx context.Context, id utils.SixID, at time.Time) error
	// ActivateListing flips is_active from false to true and drops any
	// publish claim. It reports whether this call made the change.
	ActivateListing(ctx context.Context, id utils.SixID, source models.EntitlementSource, at time.Time) (bool, error)
	AddListingImage(ctx context.Context, id, owner utils.SixID, key string) error
	SoftDeleteListing(ctx context.Context, id utils.SixID) error
}

// Payments persists payment attempts keyed by transaction_ref.
type Payments interface {
	// InsertPayment returns ErrDuplicate when the transaction_ref exists.
	InsertPayment(ctx context.Context, p *models.Payment) error
	GetPaymentByRef(ctx context.Context, ref string) (*models.Payment, error)
	GetPaymentByProviderTransaction(ctx context.Context, providerTxID string) (*models.Payment, error)
	SetPaymentSession(ctx context.Context, ref, sessionID string) error
	// CompletePayment moves the payment for p.TransactionRef from pending to
	// completed, creating it from p when it does not exist yet. It reports
	// whether this call performed the transition; a payment that is already
	// terminal is left untouched.
	CompletePayment(ctx context.Context, p *models.Payment, at time.Time) (bool, error)
	// FailPayment moves a pending payment to failed.
	FailPayment(ctx context.Context, ref, reason string, at time.Time) (bool, error)
	// FailOtherPendingPayments voids every pending payment of user for
	// property except keepRef.
	FailOtherPendingPayments(ctx context.Context, user, property utils.SixID, keepRef, reason string, at time.Time) (int64, error)
	// LatestPaymentForProperty returns the newest payment user made for property.
	LatestPaymentForProperty(ctx context.Context, user, property utils.SixID) (*models.Payment, error)
}

// Credits persists purchased credit blocks.
type Credits interface {
	// InsertCreditPurchase reports false when the transaction id was already granted.
	InsertCreditPurchase(ctx context.Context, c *models.CreditPurchase) (bool, error)
	SumAvailableCredits(ctx context.Context, user utils.SixID) (int, error)
	// ConsumePurchasedCredit takes one unit from the oldest non-empty block.
	ConsumePurchasedCredit(ctx context.Context, user utils.SixID) (bool, error)
}

// Subscriptions persists one subscription row per account.
type Subscriptions interface {
	GetSubscription(ctx context.Context, user utils.SixID) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, s *models.Subscription) error
	// ConsumeSubscriptionCredit takes one unit if the plan is active at now
	// and has allowance left.
	ConsumeSubscriptionCredit(ctx context.Context, user utils.SixID, now time.Time) (bool, error)
	// RollSubscriptionPeriod resets the allowance to credits and advances
	// next_reset_at by period, only if next_reset_at <= now.
	RollSubscriptionPeriod(ctx context.Context, user utils.SixID, credits int, now time.Time, period time.Duration) (bool, error)
	ListSubscriptionsDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

// Bookings persists reservations and owner-blocked days.
type Bookings interface {
	InsertBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id utils.SixID) (*models.Booking, error)
	// ListBookings returns bookings of property with the given status whose
	// check-out is after from.
	ListBookings(ctx context.Context, property utils.SixID, status models.BookingStatus, from time.Time) ([]models.Booking, error)
	// SetBookingStatus changes status only if the booking is currently in from.
	SetBookingStatus(ctx context.Context, id utils.SixID, from, to models.BookingStatus, at time.Time) (bool, error)
	// CalendarVersion returns how many approvals property has recorded, zero
	// when none.
	CalendarVersion(ctx context.Context, property utils.SixID) (int64, error)
	// AdvanceCalendar moves the calendar version of property from from to
	// from+1. It reports false when another approval advanced it first.
	AdvanceCalendar(ctx context.Context, property utils.SixID, from int64) (bool, error)
	AddBlockedDates(ctx context.Context, property utils.SixID, dates []time.Time) error
	RemoveBlockedDates(ctx context.Context, property utils.SixID, dates []time.Time) error
	ListBlockedDates(ctx context.Context, property utils.SixID, from time.Time) ([]models.BlockedDate, error)
}

// DeviceTokens persists push destinations.
type DeviceTokens interface {
	// UpsertDeviceToken registers token for user, refreshing updated_at when
	// it already exists.
	UpsertDeviceToken(ctx context.Context, user utils.SixID, token, platform string, at time.Time) error
	// ListDeviceTokens returns the user's tokens, most recently updated first.
	ListDeviceTokens(ctx context.Context, user utils.SixID) ([]models.DeviceToken, error)
	// DeleteDeviceToken reports whether a registered token was removed.
	DeleteDeviceToken(ctx context.Context, user utils.SixID, token string) (bool, error)
	// ClearLegacyPushToken clears the account's push_token only while it
	// still equals token. It reports whether the field was cleared.
	ClearLegacyPushToken(ctx context.Context, user utils.SixID, token string) (bool, error)
}

// Store groups every port.
type Store interface {
	Accounts
	Listings
	Payments
	Credits
	Subscriptions
	Bookings
	DeviceTokens
}

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("store: duplicate key")
