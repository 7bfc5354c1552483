package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/availability"
	"lazone/api/internal/models"
	"lazone/api/internal/services"
	"lazone/api/internal/utils"
)

// BookingHandler serves the calendar and reservation endpoints of
// short-term listings.
type BookingHandler struct {
	bookings services.IBookingService
	log      logrus.FieldLogger
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookings services.IBookingService, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{bookings: bookings, log: log.WithField("component", "booking_handler")}
}

// Availability handles GET /v1/properties/:id/availability?days=
func (h *BookingHandler) Availability(c *gin.Context) {
	propertyID, ok := idParam(c, "id")
	if !ok {
		return
	}
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "days must be a non-negative integer")
			return
		}
		days = n
	}
	view, err := h.bookings.Availability(c.Request.Context(), propertyID, days)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Quote handles GET /v1/properties/:id/quote?check_in=&check_out=
func (h *BookingHandler) Quote(c *gin.Context) {
	propertyID, ok := idParam(c, "id")
	if !ok {
		return
	}
	checkIn, err := availability.ParseDate(c.Query("check_in"))
	if err != nil {
		badRequest(c, "check_in must be YYYY-MM-DD")
		return
	}
	checkOut, err := availability.ParseDate(c.Query("check_out"))
	if err != nil {
		badRequest(c, "check_out must be YYYY-MM-DD")
		return
	}
	quote, err := h.bookings.Quote(c.Request.Context(), propertyID, checkIn, checkOut)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

type datesRequest struct {
	Dates []availability.Date `json:"dates"`
}

// BlockDates handles POST /v1/properties/:id/blocked-dates
func (h *BookingHandler) BlockDates(c *gin.Context) {
	h.changeBlocked(c, h.bookings.BlockDates)
}

// UnblockDates handles DELETE /v1/properties/:id/blocked-dates
func (h *BookingHandler) UnblockDates(c *gin.Context) {
	h.changeBlocked(c, h.bookings.UnblockDates)
}

func (h *BookingHandler) changeBlocked(c *gin.Context, apply func(ctx context.Context, ownerID, propertyID utils.SixID, dates []availability.Date) error) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	propertyID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req datesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "dates must be a list of YYYY-MM-DD")
		return
	}
	if err := apply(c.Request.Context(), userID, propertyID, req.Dates); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Create handles POST /v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req services.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	booking, err := h.bookings.CreateBooking(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

// PropertyBookings handles GET /v1/properties/:id/bookings?status=
func (h *BookingHandler) PropertyBookings(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	propertyID, ok := idParam(c, "id")
	if !ok {
		return
	}
	bookings, err := h.bookings.ListPropertyBookings(c.Request.Context(), userID, propertyID, models.BookingStatus(c.Query("status")))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": bookings})
}

// Approve handles POST /v1/bookings/:id/approve
func (h *BookingHandler) Approve(c *gin.Context) {
	h.transition(c, h.bookings.ApproveBooking)
}

// Reject handles POST /v1/bookings/:id/reject
func (h *BookingHandler) Reject(c *gin.Context) {
	h.transition(c, h.bookings.RejectBooking)
}

// Cancel handles POST /v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	h.transition(c, h.bookings.CancelBooking)
}

func (h *BookingHandler) transition(c *gin.Context, apply func(ctx context.Context, actorID, bookingID utils.SixID) (*models.Booking, error)) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	bookingID, ok := idParam(c, "id")
	if !ok {
		return
	}
	booking, err := apply(c.Request.Context(), userID, bookingID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}
