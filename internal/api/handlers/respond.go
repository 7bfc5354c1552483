package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/api/middleware"
	"lazone/api/internal/apperr"
	"lazone/api/internal/utils"
)

// writeError answers with the status of err's kind. Internal errors are
// logged and hidden from the caller.
func writeError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"error": err.Error()}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = code
	}

	switch apperr.KindOf(err) {
	case apperr.KindInternal:
		_ = c.Error(err)
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		body = gin.H{"error": "Internal server error"}
	case apperr.KindPaymentProvider:
		log.WithError(err).WithField("path", c.FullPath()).Warn("Payment provider fault")
	}
	if apperr.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// currentUser returns the authenticated account or answers 401.
func currentUser(c *gin.Context) (utils.SixID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return utils.SixID{}, false
	}
	return id, true
}

// idParam parses the SixID path parameter name or answers 400.
func idParam(c *gin.Context, name string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(name))
	if err != nil || id.IsZero() {
		badRequest(c, "Invalid "+name+" format")
		return utils.SixID{}, false
	}
	return id, true
}

// vendorStatus returns the provider status carried by err, if any.
func vendorStatus(err error) int {
	var e *apperr.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
