package sdk

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Defaults applied by ClientConfig.Validate.
const (
	DefaultUserAgent     = "stackform-sdk"
	DefaultRetryAttempts = 3
	DefaultRetryWaitMin  = time.Second
	DefaultRetryWaitMax  = 30 * time.Second
	DefaultTimeout       = 30 * time.Second
)

// ClientConfig configures a Client. Zero fields take the Default* values.
type ClientConfig struct {
	// BaseURLs lists stackform servers, e.g. "https://stackform.example.com:8080".
	// A request moves on to the next URL only when the transport fails.
	BaseURLs []string

	UserAgent string

	// HTTPClient overrides the pooled client built from Timeout.
	HTTPClient *http.Client

	// RetryAttempts is how often a 5xx or transport error is retried per URL.
	// Negative disables retries.
	RetryAttempts int

	// RetryWaitMin and RetryWaitMax bound the jittered exponential backoff.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Timeout time.Duration
}

// Validate normalizes the base URLs and fills in defaults.
func (c *ClientConfig) Validate() error {
	if len(c.BaseURLs) == 0 {
		return fmt.Errorf("%w: at least one base URL is required", ErrInvalidConfig)
	}
	for i := range c.BaseURLs {
		u, err := normalizeBaseURL(c.BaseURLs[i])
		if err != nil {
			return fmt.Errorf("%w: base URL at index %d %v", ErrInvalidConfig, i, err)
		}
		c.BaseURLs[i] = u
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = DefaultRetryAttempts
	} else if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	c.RetryWaitMin = orDefault(c.RetryWaitMin, DefaultRetryWaitMin)
	c.RetryWaitMax = orDefault(c.RetryWaitMax, DefaultRetryWaitMax)
	if c.RetryWaitMax < c.RetryWaitMin {
		return fmt.Errorf("%w: retry wait max %s is below min %s", ErrInvalidConfig, c.RetryWaitMax, c.RetryWaitMin)
	}
	c.Timeout = orDefault(c.Timeout, DefaultTimeout)

	if c.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 10
		c.HTTPClient = &http.Client{Timeout: c.Timeout, Transport: transport}
	}
	return nil
}

func normalizeBaseURL(raw string) (string, error) {
	u := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	switch {
	case u == "":
		return "", fmt.Errorf("is empty")
	case !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://"):
		return "", fmt.Errorf("%q must start with http:// or https://", raw)
	}
	return u, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
