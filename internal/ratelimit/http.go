package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// check runs one budget for the request's client IP
type check func(ctx context.Context, ip string) (*Result, error)

// guard applies a budget to every request passing through it. Headers are
// written under prefix; blocked requests get a 429 in the API error format.
// Limiter failures let the request through.
func (rl *RateLimiter) guard(scope, prefix string, allow check, blocked func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := allow(c.Request.Context(), ip)
		if err != nil {
			slog.Error("Rate limit check failed", "scope", scope, "ip", ip, "error", err)
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set(prefix+"-Limit", strconv.Itoa(result.Limit))
		h.Set(prefix+"-Remaining", strconv.Itoa(result.Remaining))
		h.Set(prefix+"-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if result.Allowed {
			c.Next()
			return
		}

		if rl.metrics != nil {
			blocked()
		}
		wait := waitSeconds(result.RetryAfter)
		h.Set("Retry-After", strconv.Itoa(wait))
		slog.Info("Request rate limited", "scope", scope, "ip", ip, "path", c.FullPath(), "retry_after", wait)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       fmt.Sprintf("Too many requests to %s, limit is %d per minute", scope, result.Limit),
			"code":        "RATE_LIMIT_EXCEEDED",
			"category":    "rate_limit",
			"retry_after": wait,
		})
	}
}

// waitSeconds rounds up so a client never retries before the bucket refills
func waitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// IPRateLimitMiddleware enforces the per-IP budget shared by every API route
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return rl.guard("the API", "X-RateLimit", rl.AllowIP, func() {
		rl.metrics.IncrementRateLimitIPBlock()
	})
}

// EndpointRateLimitMiddleware adds a per-IP budget of limit requests per
// minute for one endpoint, such as submissions or login
func (rl *RateLimiter) EndpointRateLimitMiddleware(endpoint string, limit int) gin.HandlerFunc {
	budget := Rate{Limit: limit, Period: time.Minute}
	allow := func(ctx context.Context, ip string) (*Result, error) {
		return rl.Allow(ctx, EndpointKey(endpoint, ip), budget)
	}
	return rl.guard(endpoint, "X-RateLimit-Endpoint", allow, func() {
		rl.metrics.IncrementRateLimitEndpoint(endpoint)
	})
}

// HandleRateLimitStatus tells a client which budgets apply to it
func (rl *RateLimiter) HandleRateLimitStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		burst := rl.config.IPLimit * max(rl.config.BurstMultiplier, 1)
		c.JSON(http.StatusOK, gin.H{
			"ip": c.ClientIP(),
			"limits": gin.H{
				"requests_per_minute":    gin.H{"limit": rl.config.IPLimit, "burst": burst},
				"submissions_per_minute": gin.H{"limit": rl.config.SubmitLimit},
			},
		})
	}
}

// HandleAdminRateLimits reports live keys, limiter state and block counters
func (rl *RateLimiter) HandleAdminRateLimits() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := rl.GetKeyCount(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}

		body := gin.H{
			"total_keys":    keys,
			"limiter_stats": rl.GetStats(),
			"checked_at":    time.Now().UTC().Format(time.RFC3339),
		}
		if rl.metrics != nil {
			body["metrics"] = rl.metrics.GetRateLimitStats()
		}
		c.JSON(http.StatusOK, body)
	}
}

// HandleAdminInvalidateIP clears every budget of one client, for example after
// a shop floor kiosk submitted a burst of legitimate questionnaires
func (rl *RateLimiter) HandleAdminInvalidateIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.Param("ip")
		if net.ParseIP(ip) == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "a valid IP address is required",
				"code":     "VALIDATION_ERROR",
				"category": "validation",
			})
			return
		}

		if err := rl.InvalidateIP(c.Request.Context(), ip); err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Rate limits cleared", "ip": ip})
	}
}
