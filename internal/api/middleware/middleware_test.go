package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/api/middleware"
	"lazone/api/internal/apperr"
	"lazone/api/internal/auth"
	"lazone/api/internal/config"
	"lazone/api/internal/models"
	"lazone/api/internal/services"
	"lazone/api/internal/utils"
)

const testSecret = "test-secret"

type fakeAccounts struct {
	admins map[utils.SixID]bool
	seen   []string
	err    error
}

func (f *fakeAccounts) EnsureAccount(ctx context.Context, id utils.SixID, email string) (*models.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.seen = append(f.seen, email)
	return &models.Account{Base: models.Base{ID: id}, Email: email, IsAdmin: f.admins[id]}, nil
}

// stubConfig answers the rate limit keys and defaults everything else.
type stubConfig struct {
	services.IConfigService
	values map[string]int
}

func (s *stubConfig) GetInt(ctx context.Context, key string, def int) int {
	if v, ok := s.values[key]; ok {
		return v
	}
	return def
}

func (s *stubConfig) GetFloat64(ctx context.Context, key string, def float64) float64 {
	if v, ok := s.values[key]; ok {
		return float64(v)
	}
	return def
}

func bearer(t *testing.T, id utils.SixID, admin bool) string {
	t.Helper()
	token, err := auth.GenerateJWT(id, "owner@example.com", admin, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func newAuthRouter(accounts middleware.AccountEnsurer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()
	r := gin.New()
	authed := r.Group("/", middleware.AuthMiddleware(testSecret, accounts, log))
	authed.GET("/me", func(c *gin.Context) {
		id, ok := middleware.UserID(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	authed.GET("/admin", middleware.AdminMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAuthMiddleware(t *testing.T) {
	accounts := &fakeAccounts{admins: map[utils.SixID]bool{}}
	r := newAuthRouter(accounts)
	user := utils.NewSixID()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", bearer(t, user, false), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, user.String(), w.Body.String())
			}
		})
	}
	assert.Equal(t, []string{"owner@example.com"}, accounts.seen)
}

func TestAuthMiddleware_AccountLookupFails(t *testing.T) {
	r := newAuthRouter(&fakeAccounts{err: errors.New("mongo down")})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", bearer(t, utils.NewSixID(), false))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	r = newAuthRouter(&fakeAccounts{err: apperr.ErrNotAuthenticated})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminMiddleware(t *testing.T) {
	promoted := utils.NewSixID()
	r := newAuthRouter(&fakeAccounts{admins: map[utils.SixID]bool{promoted: true}})

	cases := map[string]struct {
		header string
		want   int
	}{
		"plain user":     {bearer(t, utils.NewSixID(), false), http.StatusForbidden},
		"admin claim":    {bearer(t, utils.NewSixID(), true), http.StatusNoContent},
		"admin in store": {bearer(t, promoted, false), http.StatusNoContent},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", tc.header)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func newLimitedRouter(t *testing.T, cfg *config.Config, cs services.IConfigService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rl := middleware.NewRateLimiterMiddleware(ctx, cfg, cs, log)
	r := gin.New()
	r.Use(rl.Limit())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func hit(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BucketPerClient(t *testing.T) {
	r := newLimitedRouter(t, &config.Config{RateLimitBucketSize: 2, RateLimitRefillRate: 0}, nil)

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "10.0.0.1").Code)

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.2").Code)
}

func TestRateLimiter_RuntimeOverride(t *testing.T) {
	cs := &stubConfig{values: map[string]int{services.ConfigKeyRateLimitBucketSize: 1, services.ConfigKeyRateLimitRefillRate: 0}}
	r := newLimitedRouter(t, &config.Config{RateLimitBucketSize: 50, RateLimitRefillRate: 10}, cs)

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.3").Code)
	w := hit(r, "10.0.0.3")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiter_RetryAfterWhenRefilling(t *testing.T) {
	r := newLimitedRouter(t, &config.Config{RateLimitBucketSize: 1, RateLimitRefillRate: 1}, nil)

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.4").Code)
	w := hit(r, "10.0.0.4")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CORSMiddleware())
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_AllowList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CORSMiddleware("https://lazoneapp.com/", "https://admin.lazoneapp.com"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for origin, want := range map[string]string{
		"https://lazoneapp.com": "https://lazoneapp.com",
		"https://evil.example":  "",
		"":                      "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, want, w.Header().Get("Access-Control-Allow-Origin"), origin)
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(middleware.ContextKeyRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
