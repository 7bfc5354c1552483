package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// ProductKind says what an in-app purchase product grants.
type ProductKind string

const (
	ProductKindCredits      ProductKind = "credits"
	ProductKindSubscription ProductKind = "subscription"
)

// Product describes one in-app purchase product id.
type Product struct {
	ID   string
	Kind ProductKind
	// Credits granted for a credits product.
	Credits int
	// Plan for a subscription product ("pro" or "premium").
	Plan string
}

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode   string // Set via flag, not env
	LogLevel  string
	LogFormat string

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string
	PublicBaseURL  string
	// CORSAllowedOrigins is empty or contains "*" to allow any origin.
	CORSAllowedOrigins []string

	// Entitlements
	FreeListingsLongTerm  int
	FreeListingsShortTerm int
	ProMonthlyCredits     int
	PremiumMonthlyCredits int
	SubscriptionPeriod    time.Duration
	ListingPrice          float64
	ListingCurrency       string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIBaseURL    string

	// Apple in-app purchase
	AppleSharedSecret      string
	AppleVerifyURL         string
	AppleSandboxVerifyURL  string
	AppleVerifyTimeout     time.Duration
	IAPProducts            map[string]Product
	ProviderBreakerTimeout time.Duration

	// Push
	FCMProjectID       string
	FCMCredentialsJSON string

	// Client checkout polling
	CheckoutPollInterval time.Duration
	CheckoutPollAttempts int

	// Scheduler
	SubscriptionRollCron string

	// Bookings
	BookingLocation *time.Location // Calendar days are cut at midnight here.

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ImageBaseS3URL     string

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode,
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getInt := func(key, defaultValue string) (int, error) {
		v, err := strconv.Atoi(getEnv(key, defaultValue))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return v, nil
	}

	getMillis := func(key, defaultValue string) (time.Duration, error) {
		ms, err := strconv.ParseInt(getEnv(key, defaultValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "lazone")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", "https://lazoneapp.com")
	for _, origin := range strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}
	cfg.ListingCurrency = strings.ToUpper(getEnv("LISTING_CURRENCY", "XOF"))
	cfg.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", "")
	cfg.StripeAPIBaseURL = getEnv("STRIPE_API_BASE_URL", "")
	cfg.AppleSharedSecret = getEnv("APPLE_SHARED_SECRET", "")
	cfg.AppleVerifyURL = getEnv("APPLE_VERIFY_URL", "https://buy.itunes.apple.com/verifyReceipt")
	cfg.AppleSandboxVerifyURL = getEnv("APPLE_SANDBOX_VERIFY_URL", "https://sandbox.itunes.apple.com/verifyReceipt")
	cfg.FCMProjectID = getEnv("FCM_PROJECT_ID", "")
	cfg.FCMCredentialsJSON = getEnv("FCM_CREDENTIALS_JSON", "")
	cfg.SubscriptionRollCron = getEnv("SUBSCRIPTION_ROLL_CRON", "@hourly")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "eu-west-3")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.ImageBaseS3URL = getEnv("IMAGE_BASE_S3_URL", "")

	if cfg.BookingLocation, err = time.LoadLocation(getEnv("BOOKING_TIMEZONE", "Africa/Abidjan")); err != nil {
		return nil, fmt.Errorf("invalid BOOKING_TIMEZONE: %w", err)
	}

	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return nil, err
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	if cfg.FreeListingsLongTerm, err = getInt("FREE_LISTINGS_LONG_TERM", "1"); err != nil {
		return nil, err
	}
	if cfg.FreeListingsShortTerm, err = getInt("FREE_LISTINGS_SHORT_TERM", "1"); err != nil {
		return nil, err
	}
	if cfg.ProMonthlyCredits, err = getInt("PRO_MONTHLY_CREDITS", "15"); err != nil {
		return nil, err
	}
	if cfg.PremiumMonthlyCredits, err = getInt("PREMIUM_MONTHLY_CREDITS", "30"); err != nil {
		return nil, err
	}

	periodDays, err := getInt("SUBSCRIPTION_PERIOD_DAYS", "30")
	if err != nil {
		return nil, err
	}
	cfg.SubscriptionPeriod = time.Duration(periodDays) * 24 * time.Hour

	cfg.ListingPrice, err = strconv.ParseFloat(getEnv("LISTING_PRICE", "1000"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTING_PRICE: %w", err)
	}

	if cfg.AppleVerifyTimeout, err = getMillis("APPLE_VERIFY_TIMEOUT_MS", "10000"); err != nil {
		return nil, err
	}
	if cfg.ProviderBreakerTimeout, err = getMillis("PROVIDER_BREAKER_TIMEOUT_MS", "30000"); err != nil {
		return nil, err
	}
	if cfg.CheckoutPollInterval, err = getMillis("CHECKOUT_POLL_INTERVAL_MS", "2000"); err != nil {
		return nil, err
	}
	if cfg.CheckoutPollAttempts, err = getInt("CHECKOUT_POLL_ATTEMPTS", "12"); err != nil {
		return nil, err
	}

	cfg.IAPProducts, err = ParseProducts(getEnv("IAP_PRODUCTS",
		"com.lazone.credits.5=credits:5;com.lazone.credits.10=credits:10;com.lazone.credits.20=credits:20;"+
			"com.lazone.sub.pro=subscription:pro;com.lazone.sub.premium=subscription:premium"))
	if err != nil {
		return nil, fmt.Errorf("invalid IAP_PRODUCTS: %w", err)
	}

	if cfg.RateLimitBucketSize, err = getInt("RATE_LIMIT_BUCKET_SIZE", "20"); err != nil {
		return nil, err
	}
	if cfg.RateLimitRefillRate, err = getInt("RATE_LIMIT_REFILL_RATE", "5"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseProducts parses an "id=credits:N;id=subscription:plan" product catalog.
func ParseProducts(spec string) (map[string]Product, error) {
	products := make(map[string]Product)
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, grant, ok := strings.Cut(entry, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed product entry %q", entry)
		}
		kind, arg, ok := strings.Cut(grant, ":")
		if !ok {
			return nil, fmt.Errorf("malformed grant for product %q", id)
		}
		p := Product{ID: id, Kind: ProductKind(kind)}
		switch p.Kind {
		case ProductKindCredits:
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid credit count for product %q", id)
			}
			p.Credits = n
		case ProductKindSubscription:
			if arg != "pro" && arg != "premium" {
				return nil, fmt.Errorf("unknown plan %q for product %q", arg, id)
			}
			p.Plan = arg
		default:
			return nil, fmt.Errorf("unknown product kind %q for product %q", kind, id)
		}
		products[id] = p
	}
	return products, nil
}

// FreeListingLimit returns the env default free quota for a listing type.
func (c *Config) FreeListingLimit(listingType string) int {
	if listingType == "short_term" {
		return c.FreeListingsShortTerm
	}
	return c.FreeListingsLongTerm
}

// PlanCredits returns the env default monthly credit allowance for a plan.
func (c *Config) PlanCredits(plan string) int {
	switch plan {
	case "premium":
		return c.PremiumMonthlyCredits
	case "pro":
		return c.ProMonthlyCredits
	}
	return 0
}
