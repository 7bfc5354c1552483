package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"lazone/api/internal/api"
	"lazone/api/internal/cache"
	"lazone/api/internal/config"
	"lazone/api/internal/db"
	"lazone/api/internal/payments"
	"lazone/api/internal/prefs"
	"lazone/api/internal/push"
	"lazone/api/internal/scheduler"
	"lazone/api/internal/services"
	"lazone/api/internal/storage"
	"lazone/api/internal/store"
	"lazone/api/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks and scheduler), 'all' (default)")

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("Invalid LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient, log); err != nil {
			log.WithError(err).Error("Error disconnecting from MongoDB")
		}
	}()
	indexCtx, indexCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, mongoDb); err != nil {
		log.WithError(err).Fatal("Failed to ensure indexes")
	}
	indexCancel()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient, log); err != nil {
			log.WithError(err).Error("Error disconnecting from Redis")
		}
	}()

	// Providers
	gateway := payments.NewStripeGateway(payments.StripeConfig{
		SecretKey:      cfg.StripeSecretKey,
		WebhookSecret:  cfg.StripeWebhookSecret,
		APIBaseURL:     cfg.StripeAPIBaseURL,
		BreakerTimeout: cfg.ProviderBreakerTimeout,
	}, log)
	verifier := payments.NewAppleVerifier(payments.AppleConfig{
		SharedSecret:   cfg.AppleSharedSecret,
		ProductionURL:  cfg.AppleVerifyURL,
		SandboxURL:     cfg.AppleSandboxVerifyURL,
		Timeout:        cfg.AppleVerifyTimeout,
		BreakerTimeout: cfg.ProviderBreakerTimeout,
	}, log)

	var sender push.Sender
	if cfg.FCMProjectID != "" {
		sender, err = push.NewFCMSender(ctx, push.FCMConfig{
			ProjectID:       cfg.FCMProjectID,
			CredentialsJSON: cfg.FCMCredentialsJSON,
			BreakerTimeout:  cfg.ProviderBreakerTimeout,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize FCM")
		}
	} else {
		log.Warn("FCM_PROJECT_ID not set, push notifications are disabled")
	}

	var photos storage.IS3Storage
	if cfg.AwsS3Bucket != "" {
		photos, err = storage.NewS3Storage(ctx, cfg)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize S3 storage")
		}
	} else {
		log.Warn("AWS_S3_BUCKET not set, photo uploads are disabled")
	}

	// Task client; every producer enqueues pushes through it.
	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	pushQueue := tasks.NewPushQueue(taskClient, log)

	// Services
	st := store.NewMongoStore(mongoDb)
	configSvc := services.NewConfigService(mongoDb, cfg, redisClient, log)
	accountSvc := services.NewAccountService(st, log)
	entitlementSvc := services.NewEntitlementService(st, cfg, configSvc, log)
	listingSvc := services.NewListingService(st, cfg, entitlementSvc, photos, log)
	notificationSvc := services.NewNotificationService(st, sender, log)
	bookingSvc := services.NewBookingService(st, pushQueue, cfg.BookingLocation, log)
	paymentSvc := services.NewPaymentService(services.PaymentDeps{
		Store:         st,
		Config:        cfg,
		ConfigService: configSvc,
		Gateway:       gateway,
		Verifier:      verifier,
		Entitlements:  entitlementSvc,
		Listings:      listingSvc,
		Pushes:        pushQueue,
	}, log)

	svc := api.Services{
		Config:        configSvc,
		Accounts:      accountSvc,
		Entitlements:  entitlementSvc,
		Listings:      listingSvc,
		Payments:      paymentSvc,
		Bookings:      bookingSvc,
		Notifications: notificationSvc,
		Preferences:   prefs.NewStore(prefs.NewRedisKV(redisClient)),
	}

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	// Service API (always runs)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: api.SetupServiceRouter(svc, shutdownChan, log),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("port", cfg.ServiceApiPort).Info("Service API listening")
		if err := serviceSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Service API ListenAndServe error")
		}
		log.Info("Service API server stopped")
	}()

	var mainApiSrv *http.Server
	var taskSrv *asynq.Server
	var sched *scheduler.Scheduler

	log.WithField("mode", cfg.RunMode).Info("Starting application")

	apiMode := func() {
		mainApiSrv = &http.Server{
			Addr:              ":" + cfg.ApiPort,
			Handler:           api.SetupRouter(ctx, cfg, svc, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.WithField("port", cfg.ApiPort).Info("Main API listening")
			if err := mainApiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Fatal("Main API ListenAndServe error")
			}
			log.Info("Main API server stopped")
		}()
	}

	bgMode := func() {
		taskSrv = tasks.SetupServer(redisClient, 10, log)
		mux := tasks.NewServeMux(tasks.NewTaskProcessor(notificationSvc, entitlementSvc, log))
		if err := taskSrv.Start(mux); err != nil {
			log.WithError(err).Fatal("Background task server error")
		}
		log.Info("Background task server started")

		sched = scheduler.New(taskClient, cfg.SubscriptionRollCron, log)
		if err := sched.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start scheduler")
		}
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatalf("Invalid run mode: %s", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down gracefully")
	case <-shutdownChan:
		log.Info("Shutdown requested via Service API")
	}
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.WithError(err).Error("Service API server shutdown error")
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.WithError(err).Error("Main API server shutdown error")
		}
	}
	if sched != nil {
		sched.Stop()
	}
	if taskSrv != nil {
		taskSrv.Shutdown()
	}

	wg.Wait()
	log.Info("Server gracefully stopped")
}
