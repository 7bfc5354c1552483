package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"

	"lazone/api/internal/config"
	"lazone/api/internal/payments"
	"lazone/api/internal/push"
)

func testLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

func testConfig() *config.Config {
	return &config.Config{
		FreeListingsLongTerm:  1,
		FreeListingsShortTerm: 1,
		ProMonthlyCredits:     15,
		PremiumMonthlyCredits: 30,
		SubscriptionPeriod:    30 * 24 * time.Hour,
		ListingPrice:          5000,
		ListingCurrency:       "XOF",
		IAPProducts: map[string]config.Product{
			"com.lazone.credits.5": {ID: "com.lazone.credits.5", Kind: config.ProductKindCredits, Credits: 5},
			"com.lazone.sub.pro":   {ID: "com.lazone.sub.pro", Kind: config.ProductKindSubscription, Plan: "pro"},
		},
	}
}

// staticConfig is an in-memory IConfigService.
type staticConfig struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

func newStaticConfig(values map[string]interface{}) *staticConfig {
	if values == nil {
		values = map[string]interface{}{}
	}
	return &staticConfig{values: values}
}

func (c *staticConfig) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (c *staticConfig) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	if !ok {
		return nil, fmt.Errorf("config key '%s' not found", key)
	}
	return v, nil
}

func (c *staticConfig) GetInt(ctx context.Context, key string, def int) int {
	if v, err := c.Get(ctx, key); err == nil {
		if i, ok := v.(int); ok {
			return i
		}
	}
	return def
}

func (c *staticConfig) GetString(ctx context.Context, key string, def string) string {
	if v, err := c.Get(ctx, key); err == nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (c *staticConfig) GetBool(ctx context.Context, key string, def bool) bool {
	if v, err := c.Get(ctx, key); err == nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (c *staticConfig) GetFloat64(ctx context.Context, key string, def float64) float64 {
	if v, err := c.Get(ctx, key); err == nil {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func (c *staticConfig) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	if v, err := c.Get(ctx, key); err == nil {
		if d, ok := v.(time.Duration); ok {
			return d
		}
	}
	return def
}

func (c *staticConfig) Load(ctx context.Context) error               { return nil }
func (c *staticConfig) SubscribeToChanges(ctx context.Context) error { return nil }

func (c *staticConfig) SetConfigValue(ctx context.Context, key string, value interface{}, isPublic bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

// MockGateway is a testify mock of payments.CheckoutGateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateSession(ctx context.Context, params payments.CreateSessionParams) (*payments.CheckoutSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.CheckoutSession), args.Error(1)
}

func (m *MockGateway) GetSession(ctx context.Context, sessionID string) (*payments.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.CheckoutSession), args.Error(1)
}

func (m *MockGateway) FindSessionByRef(ctx context.Context, ref string) (*payments.CheckoutSession, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.CheckoutSession), args.Error(1)
}

func (m *MockGateway) ParseWebhook(payload []byte, signature string) (*payments.WebhookEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.WebhookEvent), args.Error(1)
}

// MockVerifier is a testify mock of payments.ReceiptVerifier.
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, receiptData string) (*payments.VerifiedReceipt, error) {
	args := m.Called(ctx, receiptData)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.VerifiedReceipt), args.Error(1)
}

// MockSender is a testify mock of push.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg push.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

// recordingPushes collects enqueued notifications.
type recordingPushes struct {
	mu   sync.Mutex
	reqs []DispatchRequest
}

func (r *recordingPushes) EnqueuePush(ctx context.Context, req DispatchRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingPushes) sent() []DispatchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DispatchRequest(nil), r.reqs...)
}
