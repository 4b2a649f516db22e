package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiter hands out one rate.Limiter per client IP and forgets idle ones.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newIPLimiter(rps float64, burst int, cleanup time.Duration) *ipLimiter {
	l := &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
	go l.cleanupLoop(cleanup)
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// cleanupLoop drops limiters whose bucket refilled completely.
func (l *ipLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for ip, limiter := range l.limiters {
			if limiter.Tokens() >= float64(l.burst) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimitByIP creates middleware that caps the overall request rate of a
// single client IP. It sits in front of every route as a flood guard; the
// finer per-operation budgets live in Throttle.
//
// Parameters:
//   - rps: Requests per second per IP
//   - burst: Burst size per IP
//
// Example:
//
//	router.Use(RateLimitByIP(100.0, 200))
func RateLimitByIP(rps float64, burst int) gin.HandlerFunc {
	limiter := newIPLimiter(rps, burst, time.Minute)

	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
