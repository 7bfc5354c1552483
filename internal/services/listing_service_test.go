package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/apperr"
	"lazone/api/internal/models"
	"lazone/api/internal/storage"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

type MockPhotoStorage struct {
	mock.Mock
}

func (m *MockPhotoStorage) GeneratePresignedPutURL(ctx context.Context, ownerID, listingID, contentType string) (*storage.PhotoUpload, error) {
	args := m.Called(ctx, ownerID, listingID, contentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.PhotoUpload), args.Error(1)
}

func (m *MockPhotoStorage) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func newTestListings(st store.Store, photos storage.IS3Storage) IListingService {
	ent := newTestEntitlements(st, nil)
	return NewListingService(st, testConfig(), ent, photos, testLogger())
}

func longTermInput() ListingInput {
	return ListingInput{Title: "Villa Cocody", ListingType: models.ListingTypeLongTerm, Price: 250000, Currency: "xof"}
}

func shortTermInput() ListingInput {
	return ListingInput{
		Title:         "Studio Plateau",
		ListingType:   models.ListingTypeShortTerm,
		PricePerNight: 20000,
		MinimumStay:   2,
		DiscountTiers: []models.DiscountTier{{Nights: 7, Percent: 10}},
	}
}

func TestListingService_CreateListing(t *testing.T) {
	ctx := context.Background()
	svc := newTestListings(store.NewMemoryStore(), nil)
	owner := utils.NewSixID()

	listing, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)
	assert.False(t, listing.ID.IsZero())
	assert.Equal(t, "XOF", listing.Currency)
	assert.False(t, listing.IsActive)

	short, err := svc.CreateListing(ctx, owner, shortTermInput())
	require.NoError(t, err)
	assert.Equal(t, "XOF", short.Currency)
	assert.Equal(t, 2, short.MinimumStay)
}

func TestListingService_CreateListingValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestListings(store.NewMemoryStore(), nil)
	owner := utils.NewSixID()

	tests := []struct {
		name   string
		mutate func(*ListingInput)
	}{
		{name: "missing title", mutate: func(in *ListingInput) { in.Title = "  " }},
		{name: "unknown type", mutate: func(in *ListingInput) { in.ListingType = "hotel" }},
		{name: "bad currency", mutate: func(in *ListingInput) { in.Currency = "FRANCS" }},
		{name: "short term without nightly price", mutate: func(in *ListingInput) {
			in.ListingType = models.ListingTypeShortTerm
		}},
		{name: "tiers on long term", mutate: func(in *ListingInput) {
			in.DiscountTiers = []models.DiscountTier{{Nights: 7, Percent: 10}}
		}},
		{name: "tier off schedule", mutate: func(in *ListingInput) {
			in.ListingType = models.ListingTypeShortTerm
			in.PricePerNight = 100
			in.DiscountTiers = []models.DiscountTier{{Nights: 4, Percent: 10}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := longTermInput()
			tt.mutate(&in)
			_, err := svc.CreateListing(ctx, owner, in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestListingService_UpdateListing(t *testing.T) {
	ctx := context.Background()
	svc := newTestListings(store.NewMemoryStore(), nil)
	owner := utils.NewSixID()
	listing, err := svc.CreateListing(ctx, owner, shortTermInput())
	require.NoError(t, err)

	title := "Studio Plateau vue lagune"
	tiers := []models.DiscountTier{{Nights: 7, Percent: 10}, {Nights: 30, Percent: 25}}
	updated, err := svc.UpdateListing(ctx, listing.ID, owner, ListingPatch{Title: &title, DiscountTiers: &tiers})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Len(t, updated.DiscountTiers, 2)

	zero := 0
	_, err = svc.UpdateListing(ctx, listing.ID, owner, ListingPatch{MinimumStay: &zero})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.UpdateListing(ctx, listing.ID, utils.NewSixID(), ListingPatch{Title: &title})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.UpdateListing(ctx, utils.NewSixID(), owner, ListingPatch{Title: &title})
	assert.Equal(t, apperr.CodeListingNotFound, apperr.CodeOf(err))
}

func TestListingService_PublishUsesFreeQuotaThenAsksForPayment(t *testing.T) {
	ctx := context.Background()
	svc := newTestListings(store.NewMemoryStore(), nil)
	owner := utils.NewSixID()

	first, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)
	res, err := svc.PublishListing(ctx, owner, first.ID)
	require.NoError(t, err)
	assert.False(t, res.NeedsPayment)
	assert.Equal(t, models.EntitlementFree, res.Source)
	assert.True(t, res.Listing.IsActive)
	assert.NotNil(t, res.Listing.PublishedAt)

	again, err := svc.PublishListing(ctx, owner, first.ID)
	require.NoError(t, err)
	assert.False(t, again.NeedsPayment)

	second, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)
	res, err = svc.PublishListing(ctx, owner, second.ID)
	require.NoError(t, err)
	assert.True(t, res.NeedsPayment)
	assert.Equal(t, models.EntitlementNone, res.Source)
	assert.False(t, res.Listing.IsActive)
	assert.NotNil(t, res.Listing.PublishedAt)
	require.NotNil(t, res.Entitlements)
	assert.Equal(t, 0, res.Entitlements.RemainingFreeListings)

	status, err := svc.ActivationStatus(ctx, owner, second.ID)
	require.NoError(t, err)
	assert.Equal(t, ActivationPaymentRequired, status.State)
}

// gatedEntitlements parks every Consume until release is closed.
type gatedEntitlements struct {
	IEntitlementService
	entered  chan struct{}
	release  chan struct{}
	consumes atomic.Int32
}

func (g *gatedEntitlements) Consume(ctx context.Context, accountID utils.SixID, listingType models.ListingType) (models.EntitlementSource, error) {
	g.consumes.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.IEntitlementService.Consume(ctx, accountID, listingType)
}

func TestListingService_ConcurrentPublishConsumesOneUnit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	ent := newTestEntitlements(st, nil)
	owner := utils.NewSixID()
	granted, err := ent.GrantCredits(ctx, owner, "com.lazone.credits.5", "tx-double-tap", 5, nil)
	require.NoError(t, err)
	require.True(t, granted)

	gated := &gatedEntitlements{IEntitlementService: ent, entered: make(chan struct{}, 4), release: make(chan struct{})}
	svc := NewListingService(st, testConfig(), gated, nil, testLogger())
	listing, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)

	type outcome struct {
		res *PublishResult
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := svc.PublishListing(ctx, owner, listing.ID)
		firstDone <- outcome{res, err}
	}()
	<-gated.entered

	// The retry arrives while the first publish is still paying.
	_, err = svc.PublishListing(ctx, owner, listing.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, apperr.CodePublishInProgress, apperr.CodeOf(err))

	close(gated.release)
	first := <-firstDone
	require.NoError(t, first.err)
	assert.Equal(t, models.EntitlementFree, first.res.Source)
	assert.True(t, first.res.Listing.IsActive)

	again, err := svc.PublishListing(ctx, owner, listing.ID)
	require.NoError(t, err)
	assert.True(t, again.Listing.IsActive)

	assert.Equal(t, int32(1), gated.consumes.Load())
	snap, err := ent.Snapshot(ctx, owner, models.ListingTypeLongTerm)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.RemainingFreeListings)
	assert.Equal(t, 5, snap.AvailableCredits, "purchased credits must be untouched")
}

func TestListingService_PublishReleasesClaimWhenPaymentNeeded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newTestListings(st, nil)
	owner := utils.NewSixID()

	first, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)
	_, err = svc.PublishListing(ctx, owner, first.ID)
	require.NoError(t, err)

	second, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		res, err := svc.PublishListing(ctx, owner, second.ID)
		require.NoError(t, err, "attempt %d", i+1)
		assert.True(t, res.NeedsPayment)
	}
	stored, err := st.GetListing(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PublishClaimedAt)
}

func TestListingService_PublishRequiresOwner(t *testing.T) {
	ctx := context.Background()
	svc := newTestListings(store.NewMemoryStore(), nil)
	listing, err := svc.CreateListing(ctx, utils.NewSixID(), longTermInput())
	require.NoError(t, err)

	_, err = svc.PublishListing(ctx, utils.NewSixID(), listing.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestListingService_ActivationStatusFollowsLatestPayment(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newTestListings(st, nil)
	owner := utils.NewSixID()
	listing, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)

	propertyID := listing.ID
	older := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.InsertPayment(ctx, &models.Payment{
		UserID: owner, PropertyID: &propertyID, TransactionRef: "ref-old",
		Status: models.PaymentStatusFailed, FailureReason: "expired", CreatedAt: older,
	}))

	status, err := svc.ActivationStatus(ctx, owner, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ActivationPaymentFailed, status.State)
	assert.Equal(t, "expired", status.FailureReason)

	require.NoError(t, st.InsertPayment(ctx, &models.Payment{
		UserID: owner, PropertyID: &propertyID, TransactionRef: "ref-new",
		Status: models.PaymentStatusPending, CreatedAt: time.Now().UTC(),
	}))
	status, err = svc.ActivationStatus(ctx, owner, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ActivationPaymentPending, status.State)
	assert.Equal(t, "ref-new", status.TransactionRef)

	activated, err := svc.ActivateListing(ctx, listing.ID, models.EntitlementPayment)
	require.NoError(t, err)
	assert.True(t, activated)
	activated, err = svc.ActivateListing(ctx, listing.ID, models.EntitlementPayment)
	require.NoError(t, err)
	assert.False(t, activated)

	status, err = svc.ActivationStatus(ctx, owner, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, ActivationActive, status.State)
	assert.Equal(t, models.EntitlementPayment, status.Source)
}

func TestListingService_AdminDeleteListing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := newTestListings(st, nil)
	owner := utils.NewSixID()
	admin := utils.NewSixID()
	require.NoError(t, st.UpsertAccount(ctx, &models.Account{Base: models.Base{ID: admin}, IsAdmin: true}))
	listing, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)

	err = svc.AdminDeleteListing(ctx, owner, listing.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, svc.AdminDeleteListing(ctx, admin, listing.ID))
	_, err = svc.FindListingByID(ctx, listing.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = svc.AdminDeleteListing(ctx, admin, listing.ID)
	assert.Equal(t, apperr.CodeListingNotFound, apperr.CodeOf(err))
}

func TestListingService_PhotoUploadURL(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	photos := new(MockPhotoStorage)
	svc := newTestListings(st, photos)
	owner := utils.NewSixID()
	listing, err := svc.CreateListing(ctx, owner, longTermInput())
	require.NoError(t, err)

	upload := &storage.PhotoUpload{UploadURL: "https://s3/put", Key: "listings/a/b/c.jpg"}
	photos.On("GeneratePresignedPutURL", ctx, owner.String(), listing.ID.String(), "image/jpeg").Return(upload, nil)
	photos.On("GeneratePresignedPutURL", ctx, owner.String(), listing.ID.String(), "image/gif").Return(nil, storage.ErrUnsupportedContentType)

	got, err := svc.PhotoUploadURL(ctx, owner, listing.ID, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, upload.Key, got.Key)

	stored, err := svc.FindListingByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{upload.Key}, stored.Images)

	_, err = svc.PhotoUploadURL(ctx, owner, listing.ID, "image/gif")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.PhotoUploadURL(ctx, utils.NewSixID(), listing.ID, "image/jpeg")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	photos.AssertExpectations(t)
}

func TestListingService_PhotoUploadWithoutBucket(t *testing.T) {
	svc := newTestListings(store.NewMemoryStore(), nil)
	_, err := svc.PhotoUploadURL(context.Background(), utils.NewSixID(), utils.NewSixID(), "image/jpeg")
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}
