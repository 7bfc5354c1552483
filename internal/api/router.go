package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/api/handlers"
	"lazone/api/internal/api/middleware"
	"lazone/api/internal/config"
	"lazone/api/internal/metrics"
	"lazone/api/internal/services"
)

// Services groups what the HTTP layer calls into.
type Services struct {
	Config        services.IConfigService
	Accounts      services.IAccountService
	Entitlements  services.IEntitlementService
	Listings      services.IListingService
	Payments      services.IPaymentService
	Bookings      services.IBookingService
	Notifications services.INotificationService
	Preferences   handlers.PreferencesStore
}

// SetupRouter configures and returns the main Gin engine. ctx bounds the
// background work of the middleware.
func SetupRouter(ctx context.Context, cfg *config.Config, svc Services, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestID(),
		middleware.LoggerMiddleware(log),
		middleware.MetricsMiddleware(),
		middleware.CORSMiddleware(cfg.CORSAllowedOrigins...),
	)

	rateLimiter := middleware.NewRateLimiterMiddleware(ctx, cfg, svc.Config, log)
	authenticate := middleware.AuthMiddleware(cfg.JwtSecret, svc.Accounts, log)

	configHandler := handlers.NewConfigHandler(svc.Config, log)
	paymentHandler := handlers.NewPaymentHandler(svc.Payments, log)
	entitlementHandler := handlers.NewEntitlementHandler(svc.Entitlements, log)
	listingHandler := handlers.NewListingHandler(svc.Listings, log)
	bookingHandler := handlers.NewBookingHandler(svc.Bookings, log)
	deviceHandler := handlers.NewDeviceHandler(svc.Notifications, log)
	preferencesHandler := handlers.NewPreferencesHandler(svc.Preferences, log)
	adminHandler := handlers.NewAdminHandler(svc.Listings, svc.Accounts, log)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})
		// Stripe signs the raw body and retries on its own schedule.
		v1.POST("/payments/webhook", paymentHandler.Webhook)

		public := v1.Group("/", rateLimiter.Limit())
		{
			public.GET("/config", configHandler.GetPublicConfig)
			public.GET("/properties/:id/availability", bookingHandler.Availability)
			public.GET("/properties/:id/quote", bookingHandler.Quote)
		}

		authRequired := v1.Group("/", authenticate, rateLimiter.Limit())
		{
			authRequired.POST("/payments/checkout", paymentHandler.Checkout)
			authRequired.POST("/payments/confirm", paymentHandler.Confirm)
			authRequired.POST("/payments/receipt", paymentHandler.Receipt)
			authRequired.GET("/payments/:ref", paymentHandler.Status)

			authRequired.GET("/entitlements", entitlementHandler.Get)

			authRequired.GET("/listings", listingHandler.Mine)
			authRequired.POST("/listings", listingHandler.Create)
			authRequired.GET("/listings/:id", listingHandler.Get)
			authRequired.PATCH("/listings/:id", listingHandler.Update)
			authRequired.POST("/listings/:id/publish", listingHandler.Publish)
			authRequired.GET("/listings/:id/activation", listingHandler.Activation)
			authRequired.POST("/listings/:id/photos", listingHandler.Photo)

			authRequired.GET("/properties/:id/bookings", bookingHandler.PropertyBookings)
			authRequired.POST("/properties/:id/blocked-dates", bookingHandler.BlockDates)
			authRequired.DELETE("/properties/:id/blocked-dates", bookingHandler.UnblockDates)

			authRequired.POST("/bookings", bookingHandler.Create)
			authRequired.POST("/bookings/:id/approve", bookingHandler.Approve)
			authRequired.POST("/bookings/:id/reject", bookingHandler.Reject)
			authRequired.POST("/bookings/:id/cancel", bookingHandler.Cancel)

			authRequired.POST("/devices", deviceHandler.Register)
			authRequired.DELETE("/devices", deviceHandler.Unregister)

			authRequired.GET("/me/preferences", preferencesHandler.Get)
			authRequired.PUT("/me/preferences", preferencesHandler.Put)
		}

		adminRequired := v1.Group("/admin", authenticate, middleware.AdminMiddleware())
		{
			adminRequired.PUT("/config/:key", configHandler.SetConfigValue)
			adminRequired.DELETE("/listings/:id", adminHandler.DeleteListing)
			adminRequired.PUT("/accounts/:id/free-listing-limit", adminHandler.SetFreeListingLimit)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine.
func SetupServiceRouter(svc Services, shutdownChan chan<- struct{}, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware(log), middleware.LoggerMiddleware(log))

	serviceHandler := handlers.NewServiceHandler(svc.Notifications, svc.Entitlements, shutdownChan, log)
	r.POST("/push/dispatch", serviceHandler.DispatchPush)
	r.POST("/api", serviceHandler.HandleRequest)
	r.GET("/metrics", metrics.Handler())
	return r
}
