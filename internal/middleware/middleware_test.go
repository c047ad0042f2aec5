package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/pkg/auth"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	tokens, err := auth.NewJWTService("middleware-secret", "opd-api")
	require.NoError(t, err)
	m := NewAuthMiddleware(tokens)

	engine := gin.New()
	engine.GET("/me", m.Authenticate(), RequireRole(model.RoleDoctor), func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, actor)
	})

	doctorToken, err := tokens.GenerateToken(model.Actor{UserID: 4, Role: model.RoleDoctor}, time.Minute)
	require.NoError(t, err)
	cashierToken, err := tokens.GenerateToken(model.Actor{UserID: 5, Role: model.RoleCashier}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"wrong role", "Bearer " + cashierToken, http.StatusForbidden},
		{"doctor", "Bearer " + doctorToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(engine, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 2}, metrics.NewTestMetrics())
	engine := gin.New()
	engine.Use(rl.RateLimit())
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	request := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":5555"
		return serve(engine, req).Code
	}

	assert.Equal(t, http.StatusNoContent, request("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, request("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, request("10.0.0.2"))
}

func TestRequestIDReachesAuditContext(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID())
	var seen string
	engine.GET("/x", func(c *gin.Context) {
		seen = audit.RequestIDFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderXRequestID, "req-123")
	w := serve(engine, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get(HeaderXRequestID))

	w = serve(engine, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
	assert.Equal(t, w.Header().Get(HeaderXRequestID), seen)
}

func TestCORS(t *testing.T) {
	engine := gin.New()
	engine.Use(CORS(DefaultCORSConfig([]string{"https://opd.example.org"})))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://opd.example.org")
	w := serve(engine, req)
	assert.Equal(t, "https://opd.example.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(engine, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://opd.example.org")
	w = serve(engine, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBodyLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(BodyLimit(8))
	engine.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":"0123456789"}`))
	w := serve(engine, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
