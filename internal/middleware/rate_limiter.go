package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/opd-api/pkg/httputil"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

type RateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
	// TTL evicts limiters for clients that have gone quiet.
	TTL time.Duration
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	config   RateLimiterConfig
	limiters *cache.Cache
	mu       sync.Mutex
	metrics  *metrics.Metrics
}

func NewRateLimiter(config RateLimiterConfig, m *metrics.Metrics) *RateLimiter {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	return &RateLimiter{
		config:   config,
		limiters: cache.New(config.TTL, 2*config.TTL),
		metrics:  m,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.limiters.Get(key); ok {
		rl.limiters.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	rl.limiters.SetDefault(key, l)
	return l
}

// RateLimit keys on the authenticated user when present, else the client IP.
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if actor, ok := ActorFrom(c); ok {
			key = "user:" + strconv.FormatInt(actor.UserID, 10)
		}
		if !rl.limiterFor(key).Allow() {
			rl.metrics.RateLimited.Inc()
			c.Header("Retry-After", "1")
			httputil.RespondWithStatus(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
