package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"lazone/api/internal/config"
	"lazone/api/internal/services"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	limiterIdleTTL         = 30 * time.Minute
)

// clientLimiter stores the token bucket of one client.
type clientLimiter struct {
	limiter  *rate.Limiter
	limit    rate.Limit
	burst    int
	lastSeen time.Time
}

// RateLimiterMiddleware applies a token bucket per client. Bucket size and
// refill rate are read through the config service so admins can change
// them at runtime.
type RateLimiterMiddleware struct {
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	cfg           *config.Config
	configService services.IConfigService
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware. Idle
// clients are evicted until ctx is done.
func NewRateLimiterMiddleware(ctx context.Context, cfg *config.Config, configService services.IConfigService, log logrus.FieldLogger) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:       make(map[string]*clientLimiter),
		cfg:           cfg,
		configService: configService,
		log:           log.WithField("component", "ratelimit"),
		now:           time.Now,
	}
	go rm.cleanupClients(ctx)
	return rm
}

// clientIdentifier keys authenticated callers by account and everyone else
// by IP.
func clientIdentifier(c *gin.Context) string {
	if id, ok := UserID(c); ok {
		return "user:" + id.String()
	}
	return "ip:" + c.ClientIP()
}

func (rm *RateLimiterMiddleware) limits(ctx context.Context) (rate.Limit, int) {
	burst := rm.cfg.RateLimitBucketSize
	refill := float64(rm.cfg.RateLimitRefillRate)
	if rm.configService != nil {
		burst = rm.configService.GetInt(ctx, services.ConfigKeyRateLimitBucketSize, burst)
		refill = rm.configService.GetFloat64(ctx, services.ConfigKeyRateLimitRefillRate, refill)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.Limit(refill), burst
}

// getClientLimiter retrieves or creates the bucket of a client and brings
// it in line with the current limits.
func (rm *RateLimiterMiddleware) getClientLimiter(identifier string, limit rate.Limit, burst int) *rate.Limiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := rm.now()
	cl, exists := rm.clients[identifier]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(limit, burst), limit: limit, burst: burst}
		rm.clients[identifier] = cl
	} else {
		if cl.limit != limit {
			cl.limiter.SetLimitAt(now, limit)
			cl.limit = limit
		}
		if cl.burst != burst {
			cl.limiter.SetBurstAt(now, burst)
			cl.burst = burst
		}
	}
	cl.lastSeen = now
	return cl.limiter
}

func (rm *RateLimiterMiddleware) cleanupClients(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rm.evictIdle(); n > 0 {
				rm.log.WithField("evicted", n).Debug("Rate limiter cleanup")
			}
		}
	}
}

func (rm *RateLimiterMiddleware) evictIdle() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	count := 0
	cutoff := rm.now().Add(-limiterIdleTTL)
	for id, cl := range rm.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rm.clients, id)
			count++
		}
	}
	return count
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := clientIdentifier(c)
		limit, burst := rm.limits(c.Request.Context())
		limiter := rm.getClientLimiter(clientKey, limit, burst)

		r := limiter.ReserveN(rm.now(), 1)
		if !r.OK() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		if delay := r.DelayFrom(rm.now()); delay > 0 {
			r.CancelAt(rm.now())
			rm.log.WithFields(logrus.Fields{"client": clientKey, "route": c.FullPath()}).Debug("Rate limit exceeded")
			c.Header("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
