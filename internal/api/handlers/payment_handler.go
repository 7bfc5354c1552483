package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/api/middleware"
	"lazone/api/internal/apperr"
	"lazone/api/internal/services"
)

// maxWebhookBytes bounds the webhook body read into memory.
const maxWebhookBytes = 64 << 10

// PaymentHandler serves the web checkout and in-app purchase endpoints.
type PaymentHandler struct {
	payments services.IPaymentService
	log      logrus.FieldLogger
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(payments services.IPaymentService, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{payments: payments, log: log.WithField("component", "payment_handler")}
}

// Checkout handles POST /v1/payments/checkout
func (h *PaymentHandler) Checkout(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req services.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	req.UserID = userID
	req.CustomerEmail = c.GetString(middleware.ContextKeyEmail)

	res, err := h.payments.InitiateWebCheckout(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type confirmRequest struct {
	TransactionRef string `json:"transactionRef"`
}

// Confirm handles POST /v1/payments/confirm
func (h *PaymentHandler) Confirm(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	res, err := h.payments.ConfirmWebCheckout(c.Request.Context(), userID, req.TransactionRef)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Status handles GET /v1/payments/:ref
func (h *PaymentHandler) Status(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	view, err := h.payments.PaymentStatus(c.Request.Context(), userID, c.Param("ref"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Webhook handles POST /v1/payments/webhook. The body must be read raw for
// the signature check.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		badRequest(c, "Failed to read body")
		return
	}
	if err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		if apperr.KindOf(err) == apperr.KindIdempotentNoOp {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Receipt handles POST /v1/payments/receipt
func (h *PaymentHandler) Receipt(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req services.ReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	res, err := h.payments.ValidateReceipt(c.Request.Context(), userID, req)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindReceiptInvalid {
			body := gin.H{"error": err.Error(), "code": apperr.CodeOf(err)}
			if status := vendorStatus(err); status != 0 {
				body["status"] = status
			}
			c.JSON(http.StatusBadRequest, body)
			return
		}
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
