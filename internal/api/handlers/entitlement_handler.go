package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/services"
)

// EntitlementHandler exposes the quota snapshot to clients.
type EntitlementHandler struct {
	entitlements services.IEntitlementService
	log          logrus.FieldLogger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(entitlements services.IEntitlementService, log logrus.FieldLogger) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements, log: log.WithField("component", "entitlement_handler")}
}

// Get handles GET /v1/entitlements?listing_type=
func (h *EntitlementHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	listingType := models.ListingType(c.DefaultQuery("listing_type", string(models.ListingTypeLongTerm)))
	snap, err := h.entitlements.Snapshot(c.Request.Context(), userID, listingType)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listing_type":  listingType,
		"entitlements":  snap,
		"next_source":   policy.ResolveEntitlementSource(*snap),
		"needs_payment": policy.NeedsPayment(*snap),
	})
}
