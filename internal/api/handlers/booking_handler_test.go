package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"lazone/api/internal/api/handlers"
	"lazone/api/internal/apperr"
	"lazone/api/internal/availability"
	"lazone/api/internal/models"
	"lazone/api/internal/policy"
	"lazone/api/internal/services"
	"lazone/api/internal/utils"
)

func newBookingRouter(user utils.SixID) (*gin.Engine, *MockBookingService) {
	svc := new(MockBookingService)
	h := handlers.NewBookingHandler(svc, testLogger())
	r := newRouter(user)
	r.GET("/v1/properties/:id/availability", h.Availability)
	r.GET("/v1/properties/:id/quote", h.Quote)
	r.GET("/v1/properties/:id/bookings", h.PropertyBookings)
	r.POST("/v1/properties/:id/blocked-dates", h.BlockDates)
	r.DELETE("/v1/properties/:id/blocked-dates", h.UnblockDates)
	r.POST("/v1/bookings", h.Create)
	r.POST("/v1/bookings/:id/approve", h.Approve)
	r.POST("/v1/bookings/:id/reject", h.Reject)
	r.POST("/v1/bookings/:id/cancel", h.Cancel)
	return r, svc
}

func date(s string) availability.Date {
	d, err := availability.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBookingHandler_Availability(t *testing.T) {
	r, svc := newBookingRouter(utils.SixID{})
	property := utils.NewSixID()

	svc.On("Availability", mock.Anything, property, 90).Return(&services.AvailabilityView{
		PropertyID:    property,
		Today:         date("2026-05-01"),
		MinimumStay:   2,
		DisabledDates: []availability.Date{date("2026-05-03"), date("2026-05-04")},
	}, nil)

	w := doJSON(r, "GET", "/v1/properties/"+property.String()+"/availability?days=90", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, []interface{}{"2026-05-03", "2026-05-04"}, body["disabled_dates"])
	assert.Equal(t, "2026-05-01", body["today"])

	w = doJSON(r, "GET", "/v1/properties/"+property.String()+"/availability?days=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler_Quote(t *testing.T) {
	r, svc := newBookingRouter(utils.SixID{})
	property := utils.NewSixID()

	svc.On("Quote", mock.Anything, property, date("2026-05-02"), date("2026-05-10")).
		Return(&policy.Quote{Nights: 8, NightlyRate: 20000, EffectivePrice: 17000, Total: 136000, Currency: "XOF"}, nil)
	svc.On("Quote", mock.Anything, property, date("2026-05-02"), date("2026-05-03")).
		Return(nil, apperr.New(apperr.KindValidation, apperr.CodeRangeTooShort, "minimum stay is 2 nights"))

	w := doJSON(r, "GET", "/v1/properties/"+property.String()+"/quote?check_in=2026-05-02&check_out=2026-05-10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(136000), decode(t, w)["total"])

	w = doJSON(r, "GET", "/v1/properties/"+property.String()+"/quote?check_in=2026-05-02&check_out=2026-05-03", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "RangeTooShort", decode(t, w)["code"])

	w = doJSON(r, "GET", "/v1/properties/"+property.String()+"/quote?check_in=tomorrow&check_out=2026-05-03", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler_CreateAndTransitions(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newBookingRouter(user)
	property := utils.NewSixID()
	bookingID := utils.NewSixID()

	req := services.BookingRequest{PropertyID: property, CheckIn: date("2026-05-05"), CheckOut: date("2026-05-08")}
	created := &models.Booking{Base: models.Base{ID: bookingID}, PropertyID: property, Status: models.BookingStatusPending, TotalNights: 3}
	svc.On("CreateBooking", mock.Anything, user, req).Return(created, nil)

	w := doJSON(r, "POST", "/v1/bookings", map[string]string{
		"property_id": property.String(), "check_in": "2026-05-05", "check_out": "2026-05-08",
	})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pending", decode(t, w)["status"])

	approved := *created
	approved.Status = models.BookingStatusApproved
	svc.On("ApproveBooking", mock.Anything, user, bookingID).Return(&approved, nil).Once()
	w = doJSON(r, "POST", "/v1/bookings/"+bookingID.String()+"/approve", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", decode(t, w)["status"])

	svc.On("RejectBooking", mock.Anything, user, bookingID).
		Return(nil, apperr.New(apperr.KindConflict, apperr.CodeInvalidState, "booking is not pending"))
	w = doJSON(r, "POST", "/v1/bookings/"+bookingID.String()+"/reject", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	svc.On("CancelBooking", mock.Anything, user, bookingID).
		Return(nil, apperr.New(apperr.KindForbidden, "", "only the requester can cancel"))
	w = doJSON(r, "POST", "/v1/bookings/"+bookingID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertExpectations(t)
}

func TestBookingHandler_BlockedDates(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newBookingRouter(user)
	property := utils.NewSixID()
	dates := []availability.Date{date("2026-06-01"), date("2026-06-02")}

	svc.On("BlockDates", mock.Anything, user, property, dates).Return(nil)
	svc.On("UnblockDates", mock.Anything, user, property, dates[:1]).Return(nil)

	w := doJSON(r, "POST", "/v1/properties/"+property.String()+"/blocked-dates", map[string][]string{"dates": {"2026-06-01", "2026-06-02"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "DELETE", "/v1/properties/"+property.String()+"/blocked-dates", map[string][]string{"dates": {"2026-06-01"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "POST", "/v1/properties/"+property.String()+"/blocked-dates", map[string][]string{"dates": {"June 1st"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}

func TestBookingHandler_PropertyBookings(t *testing.T) {
	user := utils.NewSixID()
	r, svc := newBookingRouter(user)
	property := utils.NewSixID()
	svc.On("ListPropertyBookings", mock.Anything, user, property, models.BookingStatusPending).
		Return([]models.Booking{{CheckInDate: time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)}}, nil)

	w := doJSON(r, "GET", "/v1/properties/"+property.String()+"/bookings?status=pending", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)
}
