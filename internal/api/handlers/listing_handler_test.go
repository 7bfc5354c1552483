package handlers_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"lazone/api/internal/api/handlers"
	"lazone/api/internal/apperr"
	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/services"
	"lazone/api/internal/storage"
	"lazone/api/internal/utils"
)

func newListingRouter(user utils.SixID) (*gin.Engine, *MockListingService) {
	svc := new(MockListingService)
	h := handlers.NewListingHandler(svc, testLogger())
	r := newRouter(user)
	r.GET("/v1/listings", h.Mine)
	r.POST("/v1/listings", h.Create)
	r.GET("/v1/listings/:id", h.Get)
	r.PATCH("/v1/listings/:id", h.Update)
	r.POST("/v1/listings/:id/publish", h.Publish)
	r.GET("/v1/listings/:id/activation", h.Activation)
	r.POST("/v1/listings/:id/photos", h.Photo)
	return r, svc
}

func TestListingHandler_Create(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newListingRouter(user)

	in := services.ListingInput{Title: "Villa Cocody", ListingType: models.ListingTypeLongTerm, Price: 150000000, Currency: "XOF"}
	created := &models.Listing{ID: utils.NewSixID(), OwnerID: user, Title: in.Title, ListingType: in.ListingType}
	svc.On("CreateListing", mock.Anything, user, in).Return(created, nil)

	w := doJSON(r, "POST", "/v1/listings", in)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, created.ID.String(), decode(t, w)["id"])

	w = doJSON(r, "POST", "/v1/listings", map[string]string{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "CreateListing", 1)
}

func TestListingHandler_Get(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newListingRouter(user)

	own := &models.Listing{ID: utils.NewSixID(), OwnerID: user, Title: "Draft"}
	other := &models.Listing{ID: utils.NewSixID(), OwnerID: utils.NewSixID(), Title: "Hidden"}
	public := &models.Listing{ID: utils.NewSixID(), OwnerID: utils.NewSixID(), Title: "Live", IsActive: true}
	for _, l := range []*models.Listing{own, other, public} {
		svc.On("FindListingByID", mock.Anything, l.ID).Return(l, nil)
	}
	missing := utils.NewSixID()
	svc.On("FindListingByID", mock.Anything, missing).Return(nil, apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing not found"))

	tests := []struct {
		name string
		path string
		want int
	}{
		{"own draft", "/v1/listings/" + own.ID.String(), http.StatusOK},
		{"someone else's draft", "/v1/listings/" + other.ID.String(), http.StatusNotFound},
		{"active listing", "/v1/listings/" + public.ID.String(), http.StatusOK},
		{"missing", "/v1/listings/" + missing.String(), http.StatusNotFound},
		{"malformed id", "/v1/listings/not-an-id", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(r, "GET", tt.path, nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestListingHandler_Publish(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newListingRouter(user)
	free := utils.NewSixID()
	paid := utils.NewSixID()

	svc.On("PublishListing", mock.Anything, user, free).Return(&services.PublishResult{
		Listing: &models.Listing{ID: free, IsActive: true}, Source: models.EntitlementFree,
	}, nil)
	svc.On("PublishListing", mock.Anything, user, paid).Return(&services.PublishResult{
		Listing:      &models.Listing{ID: paid},
		NeedsPayment: true,
		Source:       models.EntitlementNone,
		Entitlements: &policy.Snapshot{ListingType: models.ListingTypeLongTerm, FreeListingLimit: 1, FreeListingsUsed: 1},
	}, nil)

	w := doJSON(r, "POST", "/v1/listings/"+free.String()+"/publish", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "free", decode(t, w)["entitlement_source"])

	w = doJSON(r, "POST", "/v1/listings/"+paid.String()+"/publish", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["needs_payment"])
	assert.NotNil(t, body["entitlements"])
}

func TestListingHandler_UpdateAndActivation(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newListingRouter(user)
	id := utils.NewSixID()

	title := "Nouveau titre"
	svc.On("UpdateListing", mock.Anything, id, user, services.ListingPatch{Title: &title}).
		Return(&models.Listing{ID: id, Title: title}, nil)
	w := doJSON(r, "PATCH", "/v1/listings/"+id.String(), map[string]string{"title": title})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, title, decode(t, w)["title"])

	svc.On("ActivationStatus", mock.Anything, user, id).Return(&services.ActivationStatus{
		PropertyID: id, State: services.ActivationPaymentPending, TransactionRef: "ref-9",
	}, nil)
	w = doJSON(r, "GET", "/v1/listings/"+id.String()+"/activation", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "payment_pending", body["state"])
	assert.Equal(t, "ref-9", body["transaction_ref"])
}

func TestListingHandler_Photo(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newListingRouter(user)
	id := utils.NewSixID()

	svc.On("PhotoUploadURL", mock.Anything, user, id, "image/jpeg").
		Return(&storage.PhotoUpload{UploadURL: "https://bucket.s3/put", Key: "listings/k.jpg"}, nil)
	w := doJSON(r, "POST", "/v1/listings/"+id.String()+"/photos", map[string]string{"content_type": "image/jpeg"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "listings/k.jpg", decode(t, w)["key"])

	svc.On("PhotoUploadURL", mock.Anything, user, id, "image/gif").
		Return(nil, apperr.New(apperr.KindValidation, "", "unsupported content type"))
	w = doJSON(r, "POST", "/v1/listings/"+id.String()+"/photos", map[string]string{"content_type": "image/gif"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListingHandler_Mine(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newListingRouter(user)
	svc.On("ListByOwner", mock.Anything, user).Return([]models.Listing{{Title: "A"}, {Title: "B"}}, nil)

	w := doJSON(r, "GET", "/v1/listings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 2)
}
