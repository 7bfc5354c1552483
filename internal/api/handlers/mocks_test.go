package handlers_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"lazone/api/internal/availability"
	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/services"
	"lazone/api/internal/storage"
	"lazone/api/internal/utils"
)

// --- Mocks ---

// MockPaymentService
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) InitiateWebCheckout(ctx context.Context, req services.InitiateRequest) (*services.InitiateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.InitiateResult), args.Error(1)
}

func (m *MockPaymentService) ConfirmWebCheckout(ctx context.Context, callerID utils.SixID, ref string) (*services.ConfirmResult, error) {
	args := m.Called(ctx, callerID, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ConfirmResult), args.Error(1)
}

func (m *MockPaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

func (m *MockPaymentService) ValidateReceipt(ctx context.Context, callerID utils.SixID, req services.ReceiptRequest) (*services.ReceiptResult, error) {
	args := m.Called(ctx, callerID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ReceiptResult), args.Error(1)
}

func (m *MockPaymentService) PaymentStatus(ctx context.Context, callerID utils.SixID, ref string) (*services.PaymentStatusView, error) {
	args := m.Called(ctx, callerID, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PaymentStatusView), args.Error(1)
}

// MockListingService
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, ownerID utils.SixID, in services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, ownerID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingID, ownerID utils.SixID, patch services.ListingPatch) (*models.Listing, error) {
	args := m.Called(ctx, listingID, ownerID, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) ListByOwner(ctx context.Context, ownerID utils.SixID) ([]models.Listing, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

func (m *MockListingService) PublishListing(ctx context.Context, ownerID, listingID utils.SixID) (*services.PublishResult, error) {
	args := m.Called(ctx, ownerID, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.PublishResult), args.Error(1)
}

func (m *MockListingService) ActivateListing(ctx context.Context, listingID utils.SixID, source models.EntitlementSource) (bool, error) {
	args := m.Called(ctx, listingID, source)
	return args.Bool(0), args.Error(1)
}

func (m *MockListingService) ActivationStatus(ctx context.Context, ownerID, listingID utils.SixID) (*services.ActivationStatus, error) {
	args := m.Called(ctx, ownerID, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ActivationStatus), args.Error(1)
}

func (m *MockListingService) AdminDeleteListing(ctx context.Context, adminID, listingID utils.SixID) error {
	return m.Called(ctx, adminID, listingID).Error(0)
}

func (m *MockListingService) PhotoUploadURL(ctx context.Context, ownerID, listingID utils.SixID, contentType string) (*storage.PhotoUpload, error) {
	args := m.Called(ctx, ownerID, listingID, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PhotoUpload), args.Error(1)
}

// MockBookingService
type MockBookingService struct {
	mock.Mock
}

func (m *MockBookingService) Availability(ctx context.Context, propertyID utils.SixID, horizonDays int) (*services.AvailabilityView, error) {
	args := m.Called(ctx, propertyID, horizonDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AvailabilityView), args.Error(1)
}

func (m *MockBookingService) Quote(ctx context.Context, propertyID utils.SixID, checkIn, checkOut availability.Date) (*policy.Quote, error) {
	args := m.Called(ctx, propertyID, checkIn, checkOut)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.Quote), args.Error(1)
}

func (m *MockBookingService) CreateBooking(ctx context.Context, requesterID utils.SixID, req services.BookingRequest) (*models.Booking, error) {
	args := m.Called(ctx, requesterID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) ApproveBooking(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error) {
	return m.booking(m.Called(ctx, ownerID, bookingID))
}

func (m *MockBookingService) RejectBooking(ctx context.Context, ownerID, bookingID utils.SixID) (*models.Booking, error) {
	return m.booking(m.Called(ctx, ownerID, bookingID))
}

func (m *MockBookingService) CancelBooking(ctx context.Context, requesterID, bookingID utils.SixID) (*models.Booking, error) {
	return m.booking(m.Called(ctx, requesterID, bookingID))
}

func (m *MockBookingService) booking(args mock.Arguments) (*models.Booking, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockBookingService) ListPropertyBookings(ctx context.Context, ownerID, propertyID utils.SixID, status models.BookingStatus) ([]models.Booking, error) {
	args := m.Called(ctx, ownerID, propertyID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockBookingService) BlockDates(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) error {
	return m.Called(ctx, ownerID, propertyID, dates).Error(0)
}

func (m *MockBookingService) UnblockDates(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) error {
	return m.Called(ctx, ownerID, propertyID, dates).Error(0)
}

// MockNotificationService
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) ResolveTokens(ctx context.Context, userID utils.SixID) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockNotificationService) Dispatch(ctx context.Context, req services.DispatchRequest) (*services.DispatchResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DispatchResult), args.Error(1)
}

func (m *MockNotificationService) RegisterToken(ctx context.Context, userID utils.SixID, token, platform string) error {
	return m.Called(ctx, userID, token, platform).Error(0)
}

func (m *MockNotificationService) UnregisterToken(ctx context.Context, userID utils.SixID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

// MockEntitlementService
type MockEntitlementService struct {
	mock.Mock
}

func (m *MockEntitlementService) Snapshot(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (*policy.Snapshot, error) {
	args := m.Called(ctx, accountID, listingType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*policy.Snapshot), args.Error(1)
}

func (m *MockEntitlementService) Consume(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (models.EntitlementSource, error) {
	args := m.Called(ctx, accountID, listingType)
	return args.Get(0).(models.EntitlementSource), args.Error(1)
}

func (m *MockEntitlementService) GrantCredits(ctx context.Context, accountID utils.SixID, productID, transactionID string, credits int, expiresAt *time.Time) (bool, error) {
	args := m.Called(ctx, accountID, productID, transactionID, credits, expiresAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockEntitlementService) ActivateSubscription(ctx context.Context, accountID utils.SixID, plan models.PlanType, activeUntil time.Time, originalTransactionID string) error {
	return m.Called(ctx, accountID, plan, activeUntil, originalTransactionID).Error(0)
}

func (m *MockEntitlementService) RollSubscriptions(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

// MockAccountService
type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) EnsureAccount(ctx context.Context, id utils.SixID, email string) (*models.Account, error) {
	args := m.Called(ctx, id, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountService) FindByID(ctx context.Context, id utils.SixID) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockAccountService) SetFreeListingLimit(ctx context.Context, adminID, userID utils.SixID, limit *int) error {
	return m.Called(ctx, adminID, userID, limit).Error(0)
}

// MockConfigService implements services.IConfigService.
type MockConfigService struct {
	mock.Mock
}

func (m *MockConfigService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockConfigService) Get(ctx context.Context, key string) (interface{}, error) {
	args := m.Called(ctx, key)
	return args.Get(0), args.Error(1)
}

func (m *MockConfigService) GetInt(ctx context.Context, key string, defaultValue int) int {
	return defaultValue
}

func (m *MockConfigService) GetString(ctx context.Context, key string, defaultValue string) string {
	return defaultValue
}

func (m *MockConfigService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	return defaultValue
}

func (m *MockConfigService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	return defaultValue
}

func (m *MockConfigService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	return defaultValue
}

func (m *MockConfigService) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConfigService) SubscribeToChanges(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConfigService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	return m.Called(ctx, key, value, isPublic).Error(0)
}
