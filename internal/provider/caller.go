package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Caller wraps an http.Client with a per-vendor token-bucket rate limit and
// an explicit timeout. Adapters hold one Caller per call class (dispatch,
// poll) so a slow vendor never consumes more than its budget.
type Caller struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewCaller builds a Caller. A non-positive rps disables rate limiting.
func NewCaller(timeout time.Duration, rps float64) *Caller {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Caller{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Do waits for rate-limit admission, executes the request, and returns the
// status code plus the fully read body.
func (c *Caller) Do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
