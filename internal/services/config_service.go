package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lazone/api/internal/apperr"
	"lazone/api/internal/config"
)

// Runtime policy keys an admin may override in the configuration collection.
const (
	ConfigKeyFreeListingsLongTerm  = "FREE_LISTINGS_LONG_TERM"
	ConfigKeyFreeListingsShortTerm = "FREE_LISTINGS_SHORT_TERM"
	ConfigKeyProMonthlyCredits     = "PRO_MONTHLY_CREDITS"
	ConfigKeyPremiumMonthlyCredits = "PREMIUM_MONTHLY_CREDITS"
	ConfigKeyListingPrice          = "LISTING_PRICE"
	ConfigKeyListingCurrency       = "LISTING_CURRENCY"
	ConfigKeyRateLimitBucketSize   = "RATE_LIMIT_BUCKET_SIZE"
	ConfigKeyRateLimitRefillRate   = "RATE_LIMIT_REFILL_RATE"
)

// IConfigService defines the interface for accessing runtime configuration.
type IConfigService interface {
	GetAllPublic(ctx context.Context) (map[string]interface{}, error)
	Get(ctx context.Context, key string) (interface{}, error)
	GetInt(ctx context.Context, key string, defaultValue int) int
	GetString(ctx context.Context, key string, defaultValue string) string
	GetBool(ctx context.Context, key string, defaultValue bool) bool
	GetFloat64(ctx context.Context, key string, defaultValue float64) float64
	GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration
	Load(ctx context.Context) error
	SubscribeToChanges(ctx context.Context) error
	SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error
}

const (
	configCollection    = "configuration"
	configUpdateChannel = "config_updates"
)

// configService implements IConfigService.
type configService struct {
	db    *mongo.Database
	cfg   *config.Config // Env defaults
	rdb   *redis.Client
	log   logrus.FieldLogger
	cache map[string]interface{}
	mutex sync.RWMutex
}

// NewConfigService creates a new ConfigService, loads the stored overrides
// and starts listening for change notifications.
func NewConfigService(db *mongo.Database, initialCfg *config.Config, rdb *redis.Client, log logrus.FieldLogger) IConfigService {
	s := &configService{
		db:    db,
		cfg:   initialCfg,
		rdb:   rdb,
		log:   log.WithField("component", "config"),
		cache: make(map[string]interface{}),
	}
	if err := s.Load(context.Background()); err != nil {
		s.log.WithError(err).Warn("Failed to load config from DB, using env defaults")
	}
	go func() {
		if err := s.SubscribeToChanges(context.Background()); err != nil {
			s.log.WithError(err).Error("Config Pub/Sub listener stopped")
		}
	}()
	return s
}

// ConfigEntry represents a document in the configuration collection.
type ConfigEntry struct {
	Key    string      `bson:"key"`
	Value  interface{} `bson:"value"`
	Public bool        `bson:"public"`
}

// Load fetches all config entries from DB and replaces the in-memory cache.
func (s *configService) Load(ctx context.Context) error {
	cursor, err := s.db.Collection(configCollection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to query config collection: %w", err)
	}
	defer cursor.Close(ctx)

	newCache := make(map[string]interface{})
	for cursor.Next(ctx) {
		var entry ConfigEntry
		if err := cursor.Decode(&entry); err != nil {
			s.log.WithError(err).Warn("Failed to decode config entry")
			continue
		}
		newCache[entry.Key] = entry.Value
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("error iterating config cursor: %w", err)
	}

	s.mutex.Lock()
	s.cache = newCache
	s.mutex.Unlock()
	s.log.WithField("entries", len(newCache)).Info("Loaded config overrides")
	return nil
}

// GetAllPublic retrieves all configuration parameters marked as public.
func (s *configService) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	publicConfig := map[string]interface{}{}
	cursor, err := s.db.Collection(configCollection).Find(ctx, bson.M{"public": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query public config from DB: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var entry ConfigEntry
		if err := cursor.Decode(&entry); err == nil {
			publicConfig[entry.Key] = entry.Value
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating public config cursor: %w", err)
	}

	for _, key := range []string{ConfigKeyListingPrice, ConfigKeyListingCurrency} {
		if _, exists := publicConfig[key]; !exists {
			publicConfig[key], _ = s.Get(ctx, key)
		}
	}
	return publicConfig, nil
}

// Get returns the stored override for key, falling back to the env default.
func (s *configService) Get(ctx context.Context, key string) (interface{}, error) {
	s.mutex.RLock()
	val, exists := s.cache[key]
	s.mutex.RUnlock()
	if exists {
		return val, nil
	}
	if v, ok := envDefault(s.cfg, key); ok {
		return v, nil
	}
	return nil, fmt.Errorf("config key '%s' not found", key)
}

func envDefault(cfg *config.Config, key string) (interface{}, bool) {
	if cfg == nil {
		return nil, false
	}
	switch key {
	case ConfigKeyFreeListingsLongTerm:
		return cfg.FreeListingsLongTerm, true
	case ConfigKeyFreeListingsShortTerm:
		return cfg.FreeListingsShortTerm, true
	case ConfigKeyProMonthlyCredits:
		return cfg.ProMonthlyCredits, true
	case ConfigKeyPremiumMonthlyCredits:
		return cfg.PremiumMonthlyCredits, true
	case ConfigKeyListingPrice:
		return cfg.ListingPrice, true
	case ConfigKeyListingCurrency:
		return cfg.ListingCurrency, true
	case ConfigKeyRateLimitBucketSize:
		return cfg.RateLimitBucketSize, true
	case ConfigKeyRateLimitRefillRate:
		return cfg.RateLimitRefillRate, true
	}
	return nil, false
}

func (s *configService) GetString(ctx context.Context, key string, defaultValue string) string {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	s.typeMismatch(key, val)
	return defaultValue
}

func (s *configService) GetInt(ctx context.Context, key string, defaultValue int) int {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if n, ok := asNumber(val); ok {
		return int(n)
	}
	s.typeMismatch(key, val)
	return defaultValue
}

func (s *configService) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if b, ok := val.(bool); ok {
		return b
	}
	s.typeMismatch(key, val)
	return defaultValue
}

func (s *configService) GetFloat64(ctx context.Context, key string, defaultValue float64) float64 {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if n, ok := asNumber(val); ok {
		return n
	}
	s.typeMismatch(key, val)
	return defaultValue
}

// GetDuration reads a value stored as seconds.
func (s *configService) GetDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	val, err := s.Get(ctx, key)
	if err != nil {
		return defaultValue
	}
	if d, ok := val.(time.Duration); ok {
		return d
	}
	if n, ok := asNumber(val); ok {
		return time.Duration(n * float64(time.Second))
	}
	s.typeMismatch(key, val)
	return defaultValue
}

func (s *configService) typeMismatch(key string, val interface{}) {
	s.log.WithFields(logrus.Fields{"key": key, "type": fmt.Sprintf("%T", val)}).Warn("Config value has the wrong type, using default")
}

// asNumber accepts every numeric type Mongo and JSON decoding hand back.
func asNumber(val interface{}) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// countKeys are policy limits that must be whole and non-negative.
var countKeys = map[string]bool{
	ConfigKeyFreeListingsLongTerm:  true,
	ConfigKeyFreeListingsShortTerm: true,
	ConfigKeyProMonthlyCredits:     true,
	ConfigKeyPremiumMonthlyCredits: true,
	ConfigKeyRateLimitBucketSize:   true,
	ConfigKeyRateLimitRefillRate:   true,
}

func validateConfigValue(key string, value interface{}) error {
	if key == "" {
		return apperr.New(apperr.KindValidation, "", "config key is required")
	}
	switch {
	case countKeys[key]:
		n, ok := asNumber(value)
		if !ok || n < 0 || n != math.Trunc(n) {
			return apperr.New(apperr.KindValidation, "", fmt.Sprintf("%s must be a non-negative integer", key))
		}
	case key == ConfigKeyListingPrice:
		if n, ok := asNumber(value); !ok || n <= 0 {
			return apperr.New(apperr.KindValidation, "", fmt.Sprintf("%s must be a positive number", key))
		}
	case key == ConfigKeyListingCurrency:
		if str, ok := value.(string); !ok || len(str) != 3 {
			return apperr.New(apperr.KindValidation, "", fmt.Sprintf("%s must be a 3-letter currency code", key))
		}
	}
	return nil
}

// SubscribeToChanges reloads the cache whenever a change is published.
func (s *configService) SubscribeToChanges(ctx context.Context) error {
	if s.rdb == nil {
		s.log.Info("Redis client not configured, config changes need a restart")
		return nil
	}

	pubsub := s.rdb.Subscribe(ctx, configUpdateChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to receive confirmation from Redis Pub/Sub subscription: %w", err)
	}

	ch := pubsub.Channel()
	s.log.WithField("channel", configUpdateChannel).Info("Subscribed to config updates")

	for msg := range ch {
		s.log.WithField("key", msg.Payload).Debug("Config update notification received")
		if err := s.Load(context.Background()); err != nil {
			s.log.WithError(err).Error("Failed to reload config after notification")
		}
	}
	return nil
}

// SetConfigValue upserts a config value and tells every instance to reload.
func (s *configService) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	if err := validateConfigValue(key, value); err != nil {
		return err
	}
	if str, ok := value.(string); ok && key == ConfigKeyListingCurrency {
		value = strings.ToUpper(str)
	}
	filter := bson.M{"key": key}
	update := bson.M{"$set": bson.M{"key": key, "value": value, "public": isPublic}}
	if _, err := s.db.Collection(configCollection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert config key '%s' in DB: %w", key, err)
	}

	// Apply locally right away; other instances reload on the notification.
	s.mutex.Lock()
	s.cache[key] = value
	s.mutex.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Publish(ctx, configUpdateChannel, key).Err(); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Failed to publish config update notification")
		}
	}
	s.log.WithField("key", key).Info("Updated config value")
	return nil
}
