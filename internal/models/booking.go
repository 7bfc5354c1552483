package models

import (
	"time"

	"lazone/api/internal/utils"
)

// BookingStatus is the owner-driven state of a reservation request.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusApproved  BookingStatus = "approved"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking is a reservation request for a short-term listing. Dates are
// calendar days stored as UTC midnight; the stay covers [CheckIn, CheckOut).
type Booking struct {
	Base          `bson:",inline"`
	PropertyID    utils.SixID   `bson:"property_id" json:"property_id"`
	RequesterID   utils.SixID   `bson:"requester_id" json:"requester_id"`
	OwnerID       utils.SixID   `bson:"owner_id" json:"owner_id"`
	CheckInDate   time.Time     `bson:"check_in_date" json:"check_in_date"`
	CheckOutDate  time.Time     `bson:"check_out_date" json:"check_out_date"`
	Status        BookingStatus `bson:"status" json:"status"`
	TotalNights   int           `bson:"total_nights" json:"total_nights"`
	NightlyRate   float64       `bson:"nightly_rate" json:"nightly_rate"`       // Before discount
	PricePerNight float64       `bson:"price_per_night" json:"price_per_night"` // After discount
	TotalPrice    float64       `bson:"total_price" json:"total_price"`
	Currency      string        `bson:"currency" json:"currency"`
	DiscountTier  *DiscountTier `bson:"discount_tier,omitempty" json:"discount_tier,omitempty"`
	Message       string        `bson:"message,omitempty" json:"message,omitempty"`
	CreatedAt     time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at" json:"updated_at"`
}

// BlockedDate is a single day an owner has closed for booking.
type BlockedDate struct {
	Base       `bson:",inline"`
	PropertyID utils.SixID `bson:"property_id" json:"property_id"`
	Date       time.Time   `bson:"date" json:"date"`
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`
}
