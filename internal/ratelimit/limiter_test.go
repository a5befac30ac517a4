package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/monitoring"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFallbackLimiter(t *testing.T, config Config) (*RateLimiter, *monitoring.Metrics) {
	t.Helper()
	metrics := monitoring.NewMetrics()
	limiter := NewRateLimiter(&RedisClient{enabled: false}, config, metrics)
	t.Cleanup(limiter.Close)
	return limiter, metrics
}

func TestRateLimiterFallbackMode(t *testing.T) {
	limiter, metrics := newFallbackLimiter(t, DefaultConfig())

	ctx := context.Background()
	key := "test:submit:10.0.0.1"
	rateLimit := Rate{Limit: 5, Period: time.Minute}

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, key, rateLimit)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "Request %d should be allowed", i+1)
		assert.Equal(t, 5, result.Limit)
	}

	result, err := limiter.Allow(ctx, key, rateLimit)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "6th request should be blocked")
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, 12*time.Second)
	assert.Equal(t, int64(6), metrics.RateLimitFallbackCount)
}

func TestRateLimiterBurstCapacity(t *testing.T) {
	config := DefaultConfig()
	config.IPLimit = 5
	config.BurstMultiplier = 2
	limiter, _ := newFallbackLimiter(t, config)

	allowed := 0
	for i := 0; i < 15; i++ {
		result, err := limiter.AllowIP(context.Background(), "203.0.113.9")
		require.NoError(t, err)
		if result.Allowed {
			allowed++
		}
	}

	assert.GreaterOrEqual(t, allowed, 10, "IP burst should be limit times multiplier")
	assert.LessOrEqual(t, allowed, 11)
}

func TestRateLimiterMultipleKeys(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	ctx := context.Background()
	rateLimit := Rate{Limit: 3, Period: time.Minute}

	for _, key := range []string{"ip:1", "ip:2", "ip:3"} {
		for i := 0; i < 3; i++ {
			result, err := limiter.Allow(ctx, key, rateLimit)
			require.NoError(t, err)
			assert.True(t, result.Allowed, "Key %s request %d should be allowed", key, i+1)
		}

		result, err := limiter.Allow(ctx, key, rateLimit)
		require.NoError(t, err)
		assert.False(t, result.Allowed, "Key %s 4th request should be blocked", key)
	}
}

func TestRateLimiterStats(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	for i := 0; i < 3; i++ {
		_, _ = limiter.Allow(context.Background(), "test:stats", Rate{Limit: 5, Period: time.Minute})
	}

	stats := limiter.GetStats()
	assert.False(t, stats["redis_enabled"].(bool))
	assert.True(t, stats["fallback_enabled"].(bool))
	assert.Equal(t, 1, stats["fallback_limiters"])

	statsConfig := stats["config"].(map[string]interface{})
	assert.Equal(t, 60, statsConfig["ip_limit_per_min"])
	assert.Equal(t, 10, statsConfig["submit_limit_per_min"])
}

func TestRateLimiterCleanup(t *testing.T) {
	config := DefaultConfig()
	config.CleanupInterval = 10 * time.Millisecond
	limiter, _ := newFallbackLimiter(t, config)

	for i := 0; i < 200; i++ {
		_, _ = limiter.Allow(context.Background(), fmt.Sprintf("test:cleanup:%d", i), Rate{Limit: 5, Period: time.Minute})
	}

	time.Sleep(30 * time.Millisecond)
	limiter.cleanup()

	count, err := limiter.GetKeyCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "idle buckets should be dropped")
}

func TestRateLimiterConcurrency(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	rateLimit := Rate{Limit: 100, Period: time.Hour}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				result, err := limiter.Allow(context.Background(), "test:concurrent", rateLimit)
				assert.NoError(t, err)
				if result.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
}

func TestRateLimiterDifferentPeriods(t *testing.T) {
	limiter, _ := newFallbackLimiter(t, DefaultConfig())

	tests := []struct {
		name   string
		limit  int
		period time.Duration
	}{
		{"per second", 10, time.Second},
		{"per minute", 60, time.Minute},
		{"per hour", 1000, time.Hour},
		{"per day", 5000, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := limiter.Allow(context.Background(), "test:"+tt.name, Rate{Limit: tt.limit, Period: tt.period})
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, tt.limit, result.Limit)
		})
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	client, err := NewRedisClient(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
	require.NotNil(t, client)
	assert.False(t, client.IsEnabled())
	assert.ErrorIs(t, client.HealthCheck(context.Background()), ErrRedisDisabled)
	assert.Equal(t, false, client.GetPoolStats()["enabled"])

	client, err = NewRedisClient(context.Background(), "", "", 0)
	assert.NoError(t, err)
	assert.False(t, client.IsEnabled())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := DefaultConfig()
	config.IPLimit = 2
	config.BurstMultiplier = 1
	limiter, metrics := newFallbackLimiter(t, config)

	router := gin.New()
	router.Use(limiter.IPRateLimitMiddleware())
	router.GET("/api/forms", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/api/submissions", limiter.EndpointRateLimitMiddleware("submissions", 1), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "198.51.100.7:4321"
		router.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/submissions")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Endpoint-Limit"))

	w = do(http.MethodPost, "/api/submissions")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Too many requests to submissions, limit is 1 per minute")
	assert.Contains(t, w.Body.String(), `"code":"RATE_LIMIT_EXCEEDED"`)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = do(http.MethodGet, "/api/forms")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Too many requests to the API")

	rlStats := metrics.GetRateLimitStats()
	assert.EqualValues(t, 1, rlStats["ip_blocks"])
}
