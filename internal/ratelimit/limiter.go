// Package ratelimit throttles API clients with per-key token buckets.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/yaroslav/stackform/internal/metrics"
)

// LimitType selects the bucket sizing for a key.
type LimitType string

const (
	// LimitTypeRequest is for topology mutations per client IP.
	LimitTypeRequest LimitType = "request"

	// LimitTypeBundleUpload is for bundle uploads per client IP.
	LimitTypeBundleUpload LimitType = "bundle_upload"

	// LimitTypeUpgrade is for upgrade and revert runs per target object.
	LimitTypeUpgrade LimitType = "upgrade"

	// LimitTypeHealthCheck is for health probes per client IP.
	LimitTypeHealthCheck LimitType = "health_check"
)

// Config holds per-minute budgets for every limit type.
type Config struct {
	// RequestsPerMin is the number of mutations allowed per minute per IP.
	RequestsPerMin int

	// BundleUploadsPerMin is the number of bundle uploads allowed per minute per IP.
	BundleUploadsPerMin int

	// UpgradesPerMin is the number of upgrade runs allowed per minute per object.
	UpgradesPerMin int

	// HealthChecksPerMin is the number of health probes allowed per minute per IP.
	HealthChecksPerMin int

	// IdleTTL is how long an untouched bucket is kept (default 1h).
	IdleTTL time.Duration
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerMin:      300,
		BundleUploadsPerMin: 10,
		UpgradesPerMin:      6,
		HealthChecksPerMin:  60,
		IdleTTL:             time.Hour,
	}
}

func (c Config) perMinute(limitType LimitType) int {
	switch limitType {
	case LimitTypeBundleUpload:
		return c.BundleUploadsPerMin
	case LimitTypeUpgrade:
		return c.UpgradesPerMin
	case LimitTypeHealthCheck:
		return c.HealthChecksPerMin
	default:
		return c.RequestsPerMin
	}
}

// Limiter implements token bucket rate limiting over several limit types.
type Limiter struct {
	storage *Storage
	config  Config
	mu      sync.Mutex
}

// NewLimiter creates a new rate limiter with the given configuration.
func NewLimiter(config Config) *Limiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = time.Hour
	}
	return &Limiter{
		storage: NewStorage(config.IdleTTL),
		config:  config,
	}
}

// Allow takes a token from the bucket of key.
//
// Returns whether the call is allowed and, when it is not, how many seconds
// to wait before retrying.
func (l *Limiter) Allow(key string, limitType LimitType) (allowed bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.storage.Get(key)
	if bucket == nil {
		bucket = l.newBucket(limitType)
		l.storage.Set(key, bucket)
	}

	now := time.Now()
	bucket.refill(now)

	if bucket.Tokens >= 1 {
		bucket.Tokens--
		metrics.RateLimitChecks.WithLabelValues(string(limitType), "true").Inc()
		return true, 0
	}

	metrics.RateLimitChecks.WithLabelValues(string(limitType), "false").Inc()
	metrics.RateLimitBlocks.WithLabelValues(string(limitType)).Inc()

	if bucket.RefillRate <= 0 {
		return false, 60
	}
	retryAfter = int((1 - bucket.Tokens) / bucket.RefillRate)
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

func (l *Limiter) newBucket(limitType LimitType) *Bucket {
	capacity := float64(l.config.perMinute(limitType))
	metrics.RateLimitBucketCapacity.WithLabelValues(string(limitType)).Set(capacity)
	return &Bucket{
		Tokens:     capacity,
		LastRefill: time.Now(),
		Capacity:   capacity,
		RefillRate: capacity / 60,
	}
}

// BuildKey creates a rate limit key from identifier and limit type.
func BuildKey(identifier string, limitType LimitType) string {
	return fmt.Sprintf("%s:%s", limitType, identifier)
}

// Stop stops the bucket cleanup.
func (l *Limiter) Stop() {
	l.storage.Stop()
}
