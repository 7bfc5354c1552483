package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/services"
)

// AdminHandler holds the moderation endpoints.
type AdminHandler struct {
	listings services.IListingService
	accounts services.IAccountService
	log      logrus.FieldLogger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(listings services.IListingService, accounts services.IAccountService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{listings: listings, accounts: accounts, log: log.WithField("component", "admin_handler")}
}

// DeleteListing handles DELETE /v1/admin/listings/:id
func (h *AdminHandler) DeleteListing(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	listingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.listings.AdminDeleteListing(c.Request.Context(), adminID, listingID); err != nil {
		writeError(c, h.log, err)
		return
	}
	h.log.WithField("admin_id", adminID.String()).WithField("property_id", listingID.String()).Info("Listing deleted by admin")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type freeLimitRequest struct {
	Limit *int `json:"limit"`
}

// SetFreeListingLimit handles PUT /v1/admin/accounts/:id/free-listing-limit.
// A null limit restores the configured default.
func (h *AdminHandler) SetFreeListingLimit(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req freeLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.accounts.SetFreeListingLimit(c.Request.Context(), adminID, userID, req.Limit); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "limit": req.Limit})
}
