package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/opd-api/internal/handler/health"
	promhandler "github.com/jwalitptl/opd-api/internal/handler/prometheus"
	"github.com/jwalitptl/opd-api/internal/middleware"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	Mode         string
	Timeout      time.Duration
	RateLimit    rate.Limit
	RateBurst    int
	RateTTL      time.Duration
	RateEnabled  bool
	MaxBodyBytes int64
	CORSConfig   middleware.CORSConfig
}

type Router struct {
	engine  *gin.Engine
	auth    *middleware.AuthMiddleware
	health  *health.Handler
	metrics *promhandler.Handler
	api     []Handler
	limiter *middleware.RateLimiter
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	healthH *health.Handler,
	metricsH *promhandler.Handler,
	api []Handler,
	log *logger.Logger,
	m *metrics.Metrics,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log, m),
		middleware.SecurityHeaders(),
		middleware.CORS(config.CORSConfig),
	)

	r := &Router{
		engine:  engine,
		auth:    auth,
		health:  healthH,
		metrics: metricsH,
		api:     api,
	}
	if config.RateEnabled {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
			TTL:   config.RateTTL,
		}, m)
	}

	r.setup(config)
	return r
}

func (r *Router) setup(config RouterConfig) {
	r.health.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metrics.Handler())

	api := r.engine.Group("/api/v1")
	api.Use(
		middleware.Timeout(config.Timeout),
		r.auth.Authenticate(),
	)
	if r.limiter != nil {
		api.Use(r.limiter.RateLimit())
	}
	if config.MaxBodyBytes > 0 {
		api.Use(middleware.BodyLimit(config.MaxBodyBytes))
	}

	for _, h := range r.api {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
