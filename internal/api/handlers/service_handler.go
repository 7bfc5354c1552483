package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/services"
)

// ServiceHandler serves the internal-only service port.
type ServiceHandler struct {
	notifications services.INotificationService
	entitlements  services.IEntitlementService
	shutdownChan  chan<- struct{}
	log           logrus.FieldLogger
}

// NewServiceHandler creates a new ServiceHandler. A send on shutdownChan
// asks the process to stop.
func NewServiceHandler(notifications services.INotificationService, entitlements services.IEntitlementService, shutdownChan chan<- struct{}, log logrus.FieldLogger) *ServiceHandler {
	return &ServiceHandler{
		notifications: notifications,
		entitlements:  entitlements,
		shutdownChan:  shutdownChan,
		log:           log.WithField("component", "service_api"),
	}
}

// DispatchPush handles POST /push/dispatch. It delivers synchronously and
// answers 200 even when nothing was sent.
func (h *ServiceHandler) DispatchPush(c *gin.Context) {
	var req services.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	if req.UserID.IsZero() {
		badRequest(c, "userId is required")
		return
	}
	res, err := h.notifications.Dispatch(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sent":          res.Sent,
		"undeliverable": res.Undeliverable,
		"removed":       res.Removed,
		"failed":        res.Failed,
	})
}

type serviceRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments"`
}

// HandleRequest handles POST /api
func (h *ServiceHandler) HandleRequest(c *gin.Context) {
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
		return
	}

	switch req.Method {
	case "shutdown":
		h.log.Info("Received shutdown command via Service API")
		c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
		select {
		case h.shutdownChan <- struct{}{}:
		default:
			h.log.Warn("Shutdown channel already signaled")
		}
	case "rollSubscriptions":
		rolled, err := h.entitlements.RollSubscriptions(c.Request.Context(), time.Now().UTC())
		if err != nil {
			h.log.WithError(err).Error("Manual subscription roll failed")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "rolled": rolled})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "result": gin.H{"rolled": rolled}})
	default:
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
	}
}
