package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/services"
)

// DeviceHandler registers push tokens of the caller's devices.
type DeviceHandler struct {
	notifications services.INotificationService
	log           logrus.FieldLogger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(notifications services.INotificationService, log logrus.FieldLogger) *DeviceHandler {
	return &DeviceHandler{notifications: notifications, log: log.WithField("component", "device_handler")}
}

type deviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// Register handles POST /v1/devices
func (h *DeviceHandler) Register(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if err := h.notifications.RegisterToken(c.Request.Context(), userID, req.Token, req.Platform); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Unregister handles DELETE /v1/devices
func (h *DeviceHandler) Unregister(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		badRequest(c, "token is required")
		return
	}
	if err := h.notifications.UnregisterToken(c.Request.Context(), userID, req.Token); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
