package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/api"
	"lazone/api/internal/auth"
	"lazone/api/internal/config"
	"lazone/api/internal/models"
	"lazone/api/internal/prefs"
	"lazone/api/internal/services"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

const secret = "router-secret"

// defaultsConfig answers every lookup with the env default.
type defaultsConfig struct {
	services.IConfigService
}

func (defaultsConfig) GetAllPublic(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"LISTING_CURRENCY": "XOF"}, nil
}
func (defaultsConfig) GetInt(ctx context.Context, key string, def int) int { return def }
func (defaultsConfig) GetFloat64(ctx context.Context, key string, def float64) float64 {
	return def
}
func (defaultsConfig) GetString(ctx context.Context, key string, def string) string { return def }

type routerFixture struct {
	main    *gin.Engine
	service *gin.Engine
	store   *store.MemoryStore
	stop    chan struct{}
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		JwtSecret:            secret,
		RateLimitBucketSize:  100,
		RateLimitRefillRate:  100,
		FreeListingsLongTerm: 1,
	}
	st := store.NewMemoryStore()
	cs := defaultsConfig{}
	entitlements := services.NewEntitlementService(st, cfg, cs, log)
	notifications := services.NewNotificationService(st, nil, log)
	listings := services.NewListingService(st, cfg, entitlements, nil, log)
	svc := api.Services{
		Config:        cs,
		Accounts:      services.NewAccountService(st, log),
		Entitlements:  entitlements,
		Listings:      listings,
		Payments:      services.NewPaymentService(services.PaymentDeps{Store: st, Config: cfg, ConfigService: cs, Entitlements: entitlements, Listings: listings}, log),
		Bookings:      services.NewBookingService(st, services.NewDirectPushEnqueuer(notifications), time.UTC, log),
		Notifications: notifications,
		Preferences:   prefs.NewStore(prefs.NewMemoryKV()),
	}
	stop := make(chan struct{}, 1)
	return &routerFixture{
		main:    api.SetupRouter(ctx, cfg, svc, log),
		service: api.SetupServiceRouter(svc, stop, log),
		store:   st,
		stop:    stop,
	}
}

func token(t *testing.T, id utils.SixID, admin bool) string {
	t.Helper()
	tok, err := auth.GenerateJWT(id, "user@example.com", admin, secret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func call(r http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRouter_Routes(t *testing.T) {
	f := newRouterFixture(t)
	user := utils.NewSixID()

	assert.Equal(t, http.StatusOK, call(f.main, "GET", "/v1/ping", "", "").Code)
	assert.Equal(t, http.StatusOK, call(f.main, "GET", "/v1/config", "", "").Code)

	assert.Equal(t, http.StatusUnauthorized, call(f.main, "GET", "/v1/entitlements", "", "").Code)
	w := call(f.main, "GET", "/v1/entitlements?listing_type=long_term", token(t, user, false), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"needs_payment":false`)

	// The first authenticated request created the account row.
	_, err := f.store.GetAccount(context.Background(), user)
	assert.NoError(t, err)

	w = call(f.main, "POST", "/v1/listings", token(t, user, false), `{"title":"Villa","listing_type":"long_term","price":1000,"currency":"XOF"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	// Web checkout is not configured in this fixture.
	w = call(f.main, "POST", "/v1/payments/webhook", "", `{"id":"evt_1"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = call(f.main, "GET", "/v1/me/preferences", token(t, user, false), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRouter_AdminRoutes(t *testing.T) {
	f := newRouterFixture(t)
	target := utils.NewSixID()
	require.NoError(t, f.store.UpsertAccount(context.Background(), &models.Account{Base: models.Base{ID: target}}))

	w := call(f.main, "PUT", "/v1/admin/accounts/"+target.String()+"/free-listing-limit", token(t, utils.NewSixID(), false), `{"limit":3}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := utils.NewSixID()
	require.NoError(t, f.store.UpsertAccount(context.Background(), &models.Account{Base: models.Base{ID: admin}, IsAdmin: true}))
	w = call(f.main, "PUT", "/v1/admin/accounts/"+target.String()+"/free-listing-limit", token(t, admin, false), `{"limit":3}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupServiceRouter(t *testing.T) {
	f := newRouterFixture(t)
	require.Equal(t, http.StatusOK, call(f.main, "GET", "/v1/ping", "", "").Code)

	w := call(f.service, "POST", "/push/dispatch", "", `{"userId":"`+utils.NewSixID().String()+`","title":"Hi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sent":0`)

	w = call(f.service, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lazone_api_requests_total")

	w = call(f.service, "POST", "/api", "", `{"method":"shutdown"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.stop, 1)
}
