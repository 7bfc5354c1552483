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
	"lazone/api/internal/config"
	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/storage"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

// ActivationState tells an owner why a listing is or is not visible.
type ActivationState string

const (
	ActivationActive          ActivationState = "active"
	ActivationPaymentPending  ActivationState = "payment_pending"
	ActivationPaymentFailed   ActivationState = "payment_failed"
	ActivationPaymentRequired ActivationState = "payment_required"
)

// ListingInput carries the fields of a new listing.
type ListingInput struct {
	Title         string                `json:"title" binding:"required"`
	Description   string                `json:"description"`
	ListingType   models.ListingType    `json:"listing_type" binding:"required"`
	Price         float64               `json:"price"`
	Currency      string                `json:"currency"`
	PricePerNight float64               `json:"price_per_night"`
	MinimumStay   int                   `json:"minimum_stay"`
	DiscountTiers []models.DiscountTier `json:"discount_tiers"`
	City          string                `json:"city"`
	Country       string                `json:"country"`
}

// ListingPatch holds the fields an owner may change. Nil means unchanged.
type ListingPatch struct {
	Title         *string                `json:"title"`
	Description   *string                `json:"description"`
	Price         *float64               `json:"price"`
	Currency      *string                `json:"currency"`
	PricePerNight *float64               `json:"price_per_night"`
	MinimumStay   *int                   `json:"minimum_stay"`
	DiscountTiers *[]models.DiscountTier `json:"discount_tiers"`
	City          *string                `json:"city"`
	Country       *string                `json:"country"`
}

// PublishResult is the outcome of publishing a listing.
type PublishResult struct {
	Listing      *models.Listing          `json:"listing"`
	NeedsPayment bool                     `json:"needs_payment"`
	Source       models.EntitlementSource `json:"entitlement_source"`
	Entitlements *policy.Snapshot         `json:"entitlements,omitempty"`
}

// ActivationStatus is the owner-facing visibility state of a listing.
type ActivationStatus struct {
	PropertyID     utils.SixID              `json:"property_id"`
	IsActive       bool                     `json:"is_active"`
	State          ActivationState          `json:"state"`
	Source         models.EntitlementSource `json:"entitlement_source,omitempty"`
	TransactionRef string                   `json:"transaction_ref,omitempty"`
	FailureReason  string                   `json:"failure_reason,omitempty"`
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, ownerID utils.SixID, in ListingInput) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, patch ListingPatch) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error)
	ListByOwner(ctx context.Context, ownerID utils.SixID) ([]models.Listing, error)
	PublishListing(ctx context.Context, ownerID, listingID utils.SixID) (*PublishResult, error)
	// ActivateListing flips is_active on. It reports whether this call did it.
	ActivateListing(ctx context.Context, listingID utils.SixID, source models.EntitlementSource) (bool, error)
	ActivationStatus(ctx context.Context, ownerID, listingID utils.SixID) (*ActivationStatus, error)
	AdminDeleteListing(ctx context.Context, adminID, listingID utils.SixID) error
	PhotoUploadURL(ctx context.Context, ownerID, listingID utils.SixID, contentType string) (*storage.PhotoUpload, error)
}

// listingService implements IListingService.
type listingService struct {
	store        store.Store
	cfg          *config.Config
	entitlements IEntitlementService
	photos       storage.IS3Storage
	log          logrus.FieldLogger
}

// A publish claim older than this is treated as abandoned.
const publishClaimTTL = 30 * time.Second

// NewListingService creates a new ListingService. photos may be nil when no
// bucket is configured.
func NewListingService(st store.Store, cfg *config.Config, entitlements IEntitlementService, photos storage.IS3Storage, log logrus.FieldLogger) IListingService {
	return &listingService{
		store:        st,
		cfg:          cfg,
		entitlements: entitlements,
		photos:       photos,
		log:          log.WithField("component", "listing"),
	}
}

func validationError(format string, args ...interface{}) error {
	return apperr.New(apperr.KindValidation, "", fmt.Sprintf(format, args...))
}

func validateListing(l *models.Listing) error {
	if strings.TrimSpace(l.Title) == "" {
		return validationError("title is required")
	}
	if !l.ListingType.Valid() {
		return validationError("unknown listing type %q", l.ListingType)
	}
	if l.Price < 0 || l.PricePerNight < 0 {
		return validationError("prices cannot be negative")
	}
	if len(l.Currency) != 3 {
		return validationError("currency must be an ISO 4217 code")
	}
	if l.ListingType == models.ListingTypeShortTerm {
		if l.PricePerNight <= 0 {
			return validationError("price_per_night is required for short-term listings")
		}
		if l.MinimumStay < 1 {
			return validationError("minimum_stay must be at least one night")
		}
		if l.MinimumStay > availability.MaxStayNights {
			return validationError("minimum_stay cannot exceed %d nights", availability.MaxStayNights)
		}
		if err := policy.ValidateTiers(l.DiscountTiers); err != nil {
			return err
		}
	} else if len(l.DiscountTiers) > 0 {
		return validationError("discount tiers only apply to short-term listings")
	}
	return nil
}

// CreateListing stores a new inactive listing.
func (s *listingService) CreateListing(ctx context.Context, ownerID utils.SixID, in ListingInput) (*models.Listing, error) {
	now := time.Now().UTC()
	listing := &models.Listing{
		OwnerID:       ownerID,
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		ListingType:   in.ListingType,
		Price:         in.Price,
		Currency:      strings.ToUpper(strings.TrimSpace(in.Currency)),
		PricePerNight: in.PricePerNight,
		MinimumStay:   in.MinimumStay,
		DiscountTiers: in.DiscountTiers,
		City:          in.City,
		Country:       strings.ToUpper(in.Country),
		Images:        []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if listing.Currency == "" {
		listing.Currency = s.cfg.ListingCurrency
	}
	if listing.ListingType == models.ListingTypeShortTerm && listing.MinimumStay == 0 {
		listing.MinimumStay = 1
	}
	if err := validateListing(listing); err != nil {
		return nil, err
	}

	if err := s.store.InsertListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	s.log.WithFields(logrus.Fields{"listing_id": listing.ID.String(), "owner_id": ownerID.String()}).Info("Listing created")
	return listing, nil
}

// UpdateListing applies patch after validating the result as a whole.
func (s *listingService) UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, patch ListingPatch) (*models.Listing, error) {
	current, err := s.ownedListing(ctx, ownerID, listingID)
	if err != nil {
		return nil, err
	}

	set := map[string]interface{}{}
	if patch.Title != nil {
		current.Title = strings.TrimSpace(*patch.Title)
		set["title"] = current.Title
	}
	if patch.Description != nil {
		current.Description = *patch.Description
		set["description"] = current.Description
	}
	if patch.Price != nil {
		current.Price = *patch.Price
		set["price"] = current.Price
	}
	if patch.Currency != nil {
		current.Currency = strings.ToUpper(strings.TrimSpace(*patch.Currency))
		set["currency"] = current.Currency
	}
	if patch.PricePerNight != nil {
		current.PricePerNight = *patch.PricePerNight
		set["price_per_night"] = current.PricePerNight
	}
	if patch.MinimumStay != nil {
		current.MinimumStay = *patch.MinimumStay
		set["minimum_stay"] = current.MinimumStay
	}
	if patch.DiscountTiers != nil {
		current.DiscountTiers = *patch.DiscountTiers
		set["discount_tiers"] = current.DiscountTiers
	}
	if patch.City != nil {
		current.City = *patch.City
		set["city"] = current.City
	}
	if patch.Country != nil {
		current.Country = strings.ToUpper(*patch.Country)
		set["country"] = current.Country
	}
	if len(set) == 0 {
		return current, nil
	}
	if err := validateListing(current); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateListing(ctx, listingID, ownerID, set)
	if err != nil {
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID, err)
	}
	return updated, nil
}

func (s *listingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listing %s: %w", listingID, err)
	}
	return listing, nil
}

func (s *listingService) ownedListing(ctx context.Context, ownerID, listingID utils.SixID) (*models.Listing, error) {
	listing, err := s.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != ownerID {
		return nil, apperr.New(apperr.KindForbidden, "", "listing belongs to another account")
	}
	return listing, nil
}

func (s *listingService) ListByOwner(ctx context.Context, ownerID utils.SixID) ([]models.Listing, error) {
	listings, err := s.store.ListListingsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings of %s: %w", ownerID, err)
	}
	return listings, nil
}

// PublishListing makes a listing visible if an entitlement pays for it.
// Otherwise the listing stays inactive and the result asks for payment.
func (s *listingService) PublishListing(ctx context.Context, ownerID, listingID utils.SixID) (*PublishResult, error) {
	listing, err := s.ownedListing(ctx, ownerID, listingID)
	if err != nil {
		return nil, err
	}
	if listing.IsActive {
		return &PublishResult{Listing: listing, Source: listing.EntitlementSource}, nil
	}

	now := time.Now().UTC()
	claimed, err := s.store.ClaimListingPublish(ctx, listingID, ownerID, now, now.Add(-publishClaimTTL))
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim listing %s: %w", listingID, err)
	}
	if !claimed {
		// Another publish holds the listing or has just activated it.
		listing, err = s.FindListingByID(ctx, listingID)
		if err != nil {
			return nil, err
		}
		if listing.IsActive {
			return &PublishResult{Listing: listing, Source: listing.EntitlementSource}, nil
		}
		return nil, apperr.New(apperr.KindConflict, apperr.CodePublishInProgress, "listing is already being published")
	}
	release := func() {
		if err := s.store.ReleaseListingClaim(ctx, listingID, now); err != nil {
			s.log.WithError(err).WithField("listing_id", listingID.String()).Warn("Failed to release publish claim")
		}
	}

	if err := s.store.MarkListingPublished(ctx, listingID, ownerID, now); err != nil {
		release()
		return nil, fmt.Errorf("failed to publish listing %s: %w", listingID, err)
	}
	log := s.log.WithFields(logrus.Fields{"listing_id": listingID.String(), "owner_id": ownerID.String()})

	source, err := s.entitlements.Consume(ctx, ownerID, listing.ListingType)
	if err != nil {
		release()
	}
	if errors.Is(err, apperr.ErrEntitlementExhausted) {
		snap, snapErr := s.entitlements.Snapshot(ctx, ownerID, listing.ListingType)
		if snapErr != nil {
			return nil, snapErr
		}
		listing, err = s.FindListingByID(ctx, listingID)
		if err != nil {
			return nil, err
		}
		log.Info("Listing published pending payment")
		return &PublishResult{Listing: listing, NeedsPayment: true, Source: models.EntitlementNone, Entitlements: snap}, nil
	}
	if err != nil {
		return nil, err
	}

	activated, err := s.ActivateListing(ctx, listingID, source)
	if err != nil {
		return nil, err
	}
	if !activated {
		log.WithField("source", source).Warn("Listing was activated concurrently after an entitlement was consumed")
	}
	listing, err = s.FindListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return &PublishResult{Listing: listing, Source: listing.EntitlementSource}, nil
}

func (s *listingService) ActivateListing(ctx context.Context, listingID utils.SixID, source models.EntitlementSource) (bool, error) {
	activated, err := s.store.ActivateListing(ctx, listingID, source, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return false, apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing not found")
	}
	if err != nil {
		return false, fmt.Errorf("failed to activate listing %s: %w", listingID, err)
	}
	if activated {
		s.log.WithFields(logrus.Fields{"listing_id": listingID.String(), "source": source}).Info("Listing activated")
	}
	return activated, nil
}

// ActivationStatus distinguishes a payment still being confirmed from a
// failed one and from one never attempted.
func (s *listingService) ActivationStatus(ctx context.Context, ownerID, listingID utils.SixID) (*ActivationStatus, error) {
	listing, err := s.ownedListing(ctx, ownerID, listingID)
	if err != nil {
		return nil, err
	}
	status := &ActivationStatus{PropertyID: listing.ID, IsActive: listing.IsActive, Source: listing.EntitlementSource}
	if listing.IsActive {
		status.State = ActivationActive
		return status, nil
	}

	payment, err := s.store.LatestPaymentForProperty(ctx, ownerID, listingID)
	if errors.Is(err, store.ErrNotFound) {
		status.State = ActivationPaymentRequired
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payments of listing %s: %w", listingID, err)
	}

	status.TransactionRef = payment.TransactionRef
	switch payment.Status {
	case models.PaymentStatusFailed:
		status.State = ActivationPaymentFailed
		status.FailureReason = payment.FailureReason
	default:
		// A completed payment whose activation has not landed yet reads as pending.
		status.State = ActivationPaymentPending
	}
	return status, nil
}

func (s *listingService) AdminDeleteListing(ctx context.Context, adminID, listingID utils.SixID) error {
	admin, err := s.store.GetAccount(ctx, adminID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load account %s: %w", adminID, err)
	}
	if admin == nil || !admin.IsAdmin {
		return apperr.New(apperr.KindForbidden, "", "admin only")
	}
	if err := s.store.SoftDeleteListing(ctx, listingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing not found")
		}
		return fmt.Errorf("failed to delete listing %s: %w", listingID, err)
	}
	s.log.WithFields(logrus.Fields{"listing_id": listingID.String(), "admin_id": adminID.String()}).Info("Listing deleted by admin")
	return nil
}

// PhotoUploadURL presigns an upload and records the photo key on the listing.
func (s *listingService) PhotoUploadURL(ctx context.Context, ownerID, listingID utils.SixID, contentType string) (*storage.PhotoUpload, error) {
	if s.photos == nil {
		return nil, apperr.New(apperr.KindInternal, "", "photo storage is not configured")
	}
	if _, err := s.ownedListing(ctx, ownerID, listingID); err != nil {
		return nil, err
	}
	upload, err := s.photos.GeneratePresignedPutURL(ctx, ownerID.String(), listingID.String(), contentType)
	if errors.Is(err, storage.ErrUnsupportedContentType) {
		return nil, apperr.Wrap(apperr.KindValidation, "", "unsupported photo type", err)
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.AddListingImage(ctx, listingID, ownerID, upload.Key); err != nil {
		return nil, fmt.Errorf("failed to record photo on listing %s: %w", listingID, err)
	}
	return upload, nil
}
