package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yaroslav/stackform/internal/ratelimit"
)

// Throttle applies per-key token buckets to groups of endpoints and answers
// with 429 and a Retry-After header when a bucket is empty.
type Throttle struct {
	limiter *ratelimit.Limiter
}

// NewThrottle creates a throttle with the given budgets.
func NewThrottle(config ratelimit.Config) *Throttle {
	return &Throttle{limiter: ratelimit.NewLimiter(config)}
}

// Mutations limits non-GET requests per client IP. Reads pass through.
func (t *Throttle) Mutations() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		t.limit(c, c.ClientIP(), ratelimit.LimitTypeRequest, "Rate limit exceeded for changes")
	}
}

// BundleUploads limits bundle uploads per client IP.
func (t *Throttle) BundleUploads() gin.HandlerFunc {
	return func(c *gin.Context) {
		t.limit(c, c.ClientIP(), ratelimit.LimitTypeBundleUpload, "Rate limit exceeded for bundle uploads")
	}
}

// Upgrades limits upgrade and revert runs per target object, taken from the
// route's kind and id parameters.
func (t *Throttle) Upgrades() gin.HandlerFunc {
	return func(c *gin.Context) {
		t.limit(c, c.Param("kind")+"/"+c.Param("id"), ratelimit.LimitTypeUpgrade, "Rate limit exceeded for upgrades of this object")
	}
}

// HealthChecks limits health probes per client IP.
func (t *Throttle) HealthChecks() gin.HandlerFunc {
	return func(c *gin.Context) {
		t.limit(c, c.ClientIP(), ratelimit.LimitTypeHealthCheck, "Rate limit exceeded for health checks")
	}
}

func (t *Throttle) limit(c *gin.Context, identifier string, limitType ratelimit.LimitType, message string) {
	allowed, retryAfter := t.limiter.Allow(ratelimit.BuildKey(identifier, limitType), limitType)
	if !allowed {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limit_exceeded",
			"message":     message,
			"retry_after": retryAfter,
			"request_id":  GetRequestID(c),
		})
		return
	}
	c.Next()
}

// Stop stops the underlying limiter.
func (t *Throttle) Stop() {
	t.limiter.Stop()
}
