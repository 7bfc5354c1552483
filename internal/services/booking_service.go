package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/availability"
	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

const (
	defaultHorizonDays = 180
	maxHorizonDays     = 730
	maxBlockedPerCall  = 366
)

// AvailabilityView is the calendar of one short-term listing.
type AvailabilityView struct {
	PropertyID    utils.SixID           `json:"property_id"`
	Today         availability.Date     `json:"today"`
	MinimumStay   int                   `json:"minimum_stay"`
	PricePerNight float64               `json:"price_per_night"`
	Currency      string                `json:"currency"`
	DiscountTiers []models.DiscountTier `json:"discount_tiers,omitempty"`
	// DisabledDates lists unbookable days from Today over the horizon.
	DisabledDates []availability.Date `json:"disabled_dates"`
}

// BookingRequest asks for a stay at a listing.
type BookingRequest struct {
	PropertyID utils.SixID       `json:"property_id"`
	CheckIn    availability.Date `json:"check_in"`
	CheckOut   availability.Date `json:"check_out"`
	Message    string            `json:"message,omitempty"`
}

// IBookingService defines reservation operations for short-term listings.
type IBookingService interface {
	Availability(ctx context.Context, propertyID utils.SixID, horizonDays int) (*AvailabilityView, error)
	Quote(ctx context.Context, propertyID utils.SixID, checkIn, checkOut availability.Date) (*policy.Quote, error)
	CreateBooking(ctx context.Context, requesterID utils.SixID, req BookingRequest) (*models.Booking, error)
	ApproveBooking(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error)
	RejectBooking(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error)
	CancelBooking(ctx context.Context, requesterID, bookingID utils.SixID) (*models.Booking, error)
	ListPropertyBookings(ctx context.Context, ownerID, propertyID utils.SixID, status models.BookingStatus) ([]models.Booking, error)
	BlockDates(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) error
	UnblockDates(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) error
}

// bookingService implements IBookingService.
type bookingService struct {
	store  store.Store
	pushes PushEnqueuer
	log    logrus.FieldLogger
	today  func() availability.Date
}

// NewBookingService creates a new BookingService. Calendar days roll over
// at midnight in loc.
func NewBookingService(st store.Store, pushes PushEnqueuer, loc *time.Location, log logrus.FieldLogger) IBookingService {
	if loc == nil {
		loc = time.UTC
	}
	return &bookingService{
		store:  st,
		pushes: pushes,
		log:    log.WithField("component", "booking"),
		today:  func() availability.Date { return availability.Today(loc) },
	}
}

func (s *bookingService) shortTermListing(ctx context.Context, propertyID utils.SixID) (*models.Listing, error) {
	listing, err := s.store.GetListing(ctx, propertyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", propertyID, err)
	}
	if listing.ListingType != models.ListingTypeShortTerm {
		return nil, validationError("listing %s does not take bookings", propertyID)
	}
	return listing, nil
}

// disabledDates loads both sources of blocked days as of today.
func (s *bookingService) disabledDates(ctx context.Context, propertyID utils.SixID, today availability.Date) (availability.DisabledDates, error) {
	approved, err := s.store.ListBookings(ctx, propertyID, models.BookingStatusApproved, today.Time())
	if err != nil {
		return availability.DisabledDates{}, fmt.Errorf("failed to list approved bookings of %s: %w", propertyID, err)
	}
	blocked, err := s.store.ListBlockedDates(ctx, propertyID, today.Time())
	if err != nil {
		return availability.DisabledDates{}, fmt.Errorf("failed to list blocked dates of %s: %w", propertyID, err)
	}

	ranges := make([]availability.Range, 0, len(approved))
	for _, b := range approved {
		ranges = append(ranges, availability.Range{
			CheckIn:  availability.Day(b.CheckInDate),
			CheckOut: availability.Day(b.CheckOutDate),
		})
	}
	days := make([]availability.Date, 0, len(blocked))
	for _, b := range blocked {
		days = append(days, availability.Day(b.Date))
	}
	return availability.ComputeDisabledDates(ranges, days, today), nil
}

func (s *bookingService) Availability(ctx context.Context, propertyID utils.SixID, horizonDays int) (*AvailabilityView, error) {
	if horizonDays <= 0 {
		horizonDays = defaultHorizonDays
	}
	if horizonDays > maxHorizonDays {
		horizonDays = maxHorizonDays
	}
	listing, err := s.shortTermListing(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	today := s.today()
	disabled, err := s.disabledDates(ctx, propertyID, today)
	if err != nil {
		return nil, err
	}
	dates := disabled.List(today, today.AddDays(horizonDays))
	if dates == nil {
		dates = []availability.Date{}
	}
	return &AvailabilityView{
		PropertyID:    listing.ID,
		Today:         today,
		MinimumStay:   listing.EffectiveMinimumStay(),
		PricePerNight: listing.PricePerNight,
		Currency:      listing.Currency,
		DiscountTiers: listing.DiscountTiers,
		DisabledDates: dates,
	}, nil
}

// Quote validates a stay against the current calendar and prices it.
func (s *bookingService) Quote(ctx context.Context, propertyID utils.SixID, checkIn, checkOut availability.Date) (*policy.Quote, error) {
	listing, err := s.shortTermListing(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return s.quote(ctx, listing, checkIn, checkOut)
}

func (s *bookingService) quote(ctx context.Context, listing *models.Listing, checkIn, checkOut availability.Date) (*policy.Quote, error) {
	disabled, err := s.disabledDates(ctx, listing.ID, s.today())
	if err != nil {
		return nil, err
	}
	nights, err := availability.ValidateRange(checkIn, checkOut, listing.EffectiveMinimumStay(), disabled)
	if err != nil {
		return nil, err
	}
	q := policy.ApplyDiscount(listing.PricePerNight, nights, listing.DiscountTiers, listing.Currency)
	return &q, nil
}

func (s *bookingService) CreateBooking(ctx context.Context, requesterID utils.SixID, req BookingRequest) (*models.Booking, error) {
	listing, err := s.shortTermListing(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if !listing.IsActive {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing is not published")
	}
	if listing.OwnerID == requesterID {
		return nil, apperr.New(apperr.KindForbidden, "", "owners cannot book their own listing")
	}
	q, err := s.quote(ctx, listing, req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	booking := &models.Booking{
		PropertyID:    listing.ID,
		RequesterID:   requesterID,
		OwnerID:       listing.OwnerID,
		CheckInDate:   req.CheckIn.Time(),
		CheckOutDate:  req.CheckOut.Time(),
		Status:        models.BookingStatusPending,
		TotalNights:   q.Nights,
		NightlyRate:   q.NightlyRate,
		PricePerNight: q.EffectivePrice,
		TotalPrice:    q.Total,
		Currency:      q.Currency,
		DiscountTier:  q.Tier,
		Message:       strings.TrimSpace(req.Message),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":  booking.ID.String(),
		"property_id": listing.ID.String(),
		"nights":      q.Nights,
	}).Info("Booking requested")
	notify(ctx, s.pushes, s.log, DispatchRequest{
		UserID: listing.OwnerID,
		Title:  "New booking request",
		Body:   fmt.Sprintf("%s: %s to %s", listing.Title, req.CheckIn, req.CheckOut),
		Data:   map[string]string{"type": "booking_requested", "booking_id": booking.ID.String()},
	})
	return booking, nil
}

func (s *bookingService) loadBooking(ctx context.Context, bookingID utils.SixID) (*models.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeBookingNotFound, "booking not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	return booking, nil
}

// transition moves a pending booking to status and reloads it.
func (s *bookingService) transition(ctx context.Context, booking *models.Booking, to models.BookingStatus) (*models.Booking, error) {
	changed, err := s.store.SetBookingStatus(ctx, booking.ID, models.BookingStatusPending, to, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to set booking %s to %s: %w", booking.ID, to, err)
	}
	if !changed {
		return nil, apperr.New(apperr.KindConflict, apperr.CodeInvalidState, "booking is no longer pending")
	}
	s.log.WithFields(logrus.Fields{"booking_id": booking.ID.String(), "status": to}).Info("Booking status changed")
	return s.loadBooking(ctx, booking.ID)
}

func requirePending(b *models.Booking) error {
	if b.Status != models.BookingStatusPending {
		return apperr.New(apperr.KindConflict, apperr.CodeInvalidState, fmt.Sprintf("booking is %s", b.Status))
	}
	return nil
}

// ApproveBooking accepts a pending request after checking its dates are
// still free.
func (s *bookingService) ApproveBooking(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindForbidden, "", "only the owner can approve")
	}
	if err := requirePending(booking); err != nil {
		return nil, err
	}

	checkIn, checkOut := availability.Day(booking.CheckInDate), availability.Day(booking.CheckOutDate)
	var updated *models.Booking
	for attempt := 1; updated == nil; attempt++ {
		if attempt > approveAttempts {
			return nil, apperr.New(apperr.KindConflict, apperr.CodeInvalidState, "calendar is busy, try again")
		}
		if updated, err = s.approveOnce(ctx, booking, checkIn, checkOut); err != nil {
			return nil, err
		}
	}
	notify(ctx, s.pushes, s.log, DispatchRequest{
		UserID: booking.RequesterID,
		Title:  "Booking approved",
		Body:   fmt.Sprintf("Your stay from %s to %s is confirmed.", checkIn, checkOut),
		Data:   map[string]string{"type": "booking_approved", "booking_id": booking.ID.String()},
	})
	return updated, nil
}

const approveAttempts = 3

// approveOnce checks the stay against the calendar and approves it. The
// calendar version is read before the check and advanced after the status
// change, so an approval that lands in between makes this attempt revert
// and return a nil booking.
func (s *bookingService) approveOnce(ctx context.Context, booking *models.Booking, checkIn, checkOut availability.Date) (*models.Booking, error) {
	version, err := s.store.CalendarVersion(ctx, booking.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar of %s: %w", booking.PropertyID, err)
	}
	disabled, err := s.disabledDates(ctx, booking.PropertyID, s.today())
	if err != nil {
		return nil, err
	}
	// The stay already passed the minimum stay check when it was requested.
	if _, err := availability.ValidateRange(checkIn, checkOut, 1, disabled); err != nil {
		return nil, apperr.Wrap(apperr.KindConflict, apperr.CodeOf(err), "dates are no longer available", err)
	}

	updated, err := s.transition(ctx, booking, models.BookingStatusApproved)
	if err != nil {
		return nil, err
	}
	advanced, err := s.store.AdvanceCalendar(ctx, booking.PropertyID, version)
	if err != nil {
		s.revertApproval(ctx, booking.ID)
		return nil, fmt.Errorf("failed to record approval on %s: %w", booking.PropertyID, err)
	}
	if !advanced {
		s.revertApproval(ctx, booking.ID)
		return nil, nil
	}
	return updated, nil
}

// revertApproval puts a booking that lost an approval race back to pending.
func (s *bookingService) revertApproval(ctx context.Context, bookingID utils.SixID) {
	log := s.log.WithField("booking_id", bookingID.String())
	reverted, err := s.store.SetBookingStatus(ctx, bookingID, models.BookingStatusApproved, models.BookingStatusPending, time.Now().UTC())
	if err != nil || !reverted {
		log.WithError(err).Error("Failed to revert booking approval")
		return
	}
	log.Info("Booking approval raced another approval, retrying")
}

func (s *bookingService) RejectBooking(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindForbidden, "", "only the owner can reject")
	}
	if err := requirePending(booking); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, booking, models.BookingStatusRejected)
	if err != nil {
		return nil, err
	}
	notify(ctx, s.pushes, s.log, DispatchRequest{
		UserID: booking.RequesterID,
		Title:  "Booking declined",
		Body:   "The owner declined your booking request.",
		Data:   map[string]string{"type": "booking_rejected", "booking_id": booking.ID.String()},
	})
	return updated, nil
}

// CancelBooking withdraws a request that the owner has not acted on yet.
func (s *bookingService) CancelBooking(ctx context.Context, requesterID, bookingID utils.SixID) (*models.Booking, error) {
	booking, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.RequesterID != requesterID {
		return nil, apperr.New(apperr.KindForbidden, "", "only the requester can cancel")
	}
	if err := requirePending(booking); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, booking, models.BookingStatusCancelled)
	if err != nil {
		return nil, err
	}
	notify(ctx, s.pushes, s.log, DispatchRequest{
		UserID: booking.OwnerID,
		Title:  "Booking cancelled",
		Body:   "A guest withdrew their booking request.",
		Data:   map[string]string{"type": "booking_cancelled", "booking_id": booking.ID.String()},
	})
	return updated, nil
}

func (s *bookingService) ownedShortTerm(ctx context.Context, ownerID, propertyID utils.SixID) (*models.Listing, error) {
	listing, err := s.shortTermListing(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindForbidden, "", "listing belongs to another account")
	}
	return listing, nil
}

func (s *bookingService) ListPropertyBookings(ctx context.Context, ownerID, propertyID utils.SixID, status models.BookingStatus) ([]models.Booking, error) {
	if _, err := s.ownedShortTerm(ctx, ownerID, propertyID); err != nil {
		return nil, err
	}
	if status == "" {
		status = models.BookingStatusPending
	}
	bookings, err := s.store.ListBookings(ctx, propertyID, status, s.today().AddDays(-1).Time())
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings of %s: %w", propertyID, err)
	}
	return bookings, nil
}

func (s *bookingService) blockable(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) ([]time.Time, error) {
	if len(dates) == 0 {
		return nil, validationError("at least one date is required")
	}
	if len(dates) > maxBlockedPerCall {
		return nil, validationError("at most %d dates per request", maxBlockedPerCall)
	}
	if _, err := s.ownedShortTerm(ctx, ownerID, propertyID); err != nil {
		return nil, err
	}
	today := s.today()
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if d.IsZero() {
			return nil, validationError("invalid date")
		}
		if d.Before(today) {
			return nil, validationError("%s is in the past", d)
		}
		out = append(out, d.Time())
	}
	return out, nil
}

func (s *bookingService) BlockDates(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) error {
	days, err := s.blockable(ctx, ownerID, propertyID, dates)
	if err != nil {
		return err
	}
	if err := s.store.AddBlockedDates(ctx, propertyID, days); err != nil {
		return fmt.Errorf("failed to block dates of %s: %w", propertyID, err)
	}
	s.log.WithFields(logrus.Fields{"property_id": propertyID.String(), "count": len(days)}).Info("Dates blocked")
	return nil
}

func (s *bookingService) UnblockDates(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) error {
	days, err := s.blockable(ctx, ownerID, propertyID, dates)
	if err != nil {
		return err
	}
	if err := s.store.RemoveBlockedDates(ctx, propertyID, days); err != nil {
		return fmt.Errorf("failed to unblock dates of %s: %w", propertyID, err)
	}
	return nil
}
