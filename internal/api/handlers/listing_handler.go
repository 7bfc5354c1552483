package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/apperr"
	"lazone/api/internal/services"
)

// ListingHandler handles the owner-facing listing endpoints.
type ListingHandler struct {
	listings services.IListingService
	log      logrus.FieldLogger
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(listings services.IListingService, log logrus.FieldLogger) *ListingHandler {
	return &ListingHandler{listings: listings, log: log.WithField("component", "listing_handler")}
}

// Create handles POST /v1/listings
func (h *ListingHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var in services.ListingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	listing, err := h.listings.CreateListing(c.Request.Context(), userID, in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// Update handles PATCH /v1/listings/:id
func (h *ListingHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var patch services.ListingPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	listing, err := h.listings.UpdateListing(c.Request.Context(), listingID, userID, patch)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Get handles GET /v1/listings/:id. Inactive listings are visible to
// their owner only.
func (h *ListingHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	listing, err := h.listings.FindListingByID(c.Request.Context(), listingID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if !listing.IsActive && listing.OwnerID != userID {
		writeError(c, h.log, apperr.New(apperr.KindNotFound, apperr.CodeListingNotFound, "listing not found"))
		return
	}
	c.JSON(http.StatusOK, listing)
}

// Mine handles GET /v1/listings
func (h *ListingHandler) Mine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	listings, err := h.listings.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": listings})
}

// Publish handles POST /v1/listings/:id/publish. A listing that needs
// payment answers 402 with the entitlement snapshot.
func (h *ListingHandler) Publish(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.listings.PublishListing(c.Request.Context(), userID, listingID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if res.NeedsPayment {
		c.JSON(http.StatusPaymentRequired, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Activation handles GET /v1/listings/:id/activation
func (h *ListingHandler) Activation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	status, err := h.listings.ActivationStatus(c.Request.Context(), userID, listingID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type photoRequest struct {
	ContentType string `json:"content_type"`
}

// Photo handles POST /v1/listings/:id/photos
func (h *ListingHandler) Photo(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req photoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	upload, err := h.listings.PhotoUploadURL(c.Request.Context(), userID, listingID, req.ContentType)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, upload)
}
