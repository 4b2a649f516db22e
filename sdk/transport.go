package sdk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// doRequestWithRetry sends one request to url, retrying transport errors and
// 5xx answers with backoff. body is replayed from memory on every attempt.
// A 5xx on the final attempt is returned to the caller, which decodes it.
func (c *Client) doRequestWithRetry(ctx context.Context, method, url, contentType string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, url, contentType, body)
		if err == nil && (resp.StatusCode < http.StatusInternalServerError || attempt >= c.RetryAttempts) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
			if attempt >= c.RetryAttempts {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, lastErr)
			}
		} else {
			drainAndCloseBody(resp)
		}

		timer := time.NewTimer(c.calculateBackoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, url, contentType string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	return c.HTTPClient.Do(req)
}

// calculateBackoff returns full jitter over min(RetryWaitMin*2^attempt, RetryWaitMax).
func (c *Client) calculateBackoff(attempt int) time.Duration {
	ceiling := c.RetryWaitMax
	if attempt < 32 {
		if d := c.RetryWaitMin << attempt; d > 0 && d < ceiling {
			ceiling = d
		}
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// drainAndCloseBody lets the connection return to the pool.
func drainAndCloseBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
