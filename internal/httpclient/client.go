package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/cesargomez89/tubedrop/internal/backoff"
	"github.com/cesargomez89/tubedrop/internal/constants"
)

// Client wraps an http.Client to provide request pacing and automatic retries
// on transport errors and throttling responses.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    backoff.Policy
	retries    int
}

// NewClient creates a new paced, retrying HTTP client. A zero interval
// disables pacing.
func NewClient(httpClient *http.Client, minRequestInterval time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	if minRequestInterval > 0 {
		limit = rate.Every(minRequestInterval)
	}
	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		backoff:    backoff.Linear{Step: constants.HTTPRetryBase},
		retries:    constants.HTTPRetryCount,
	}
}

// WithBackoff replaces the wait between attempts. Retry-After still wins when
// it asks for longer.
func (c *Client) WithBackoff(p backoff.Policy) *Client {
	c.backoff = p
	return c
}

// Do executes an HTTP request with pacing and retries. A request body is
// replayed through GetBody; requests without it are sent once.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempts := c.retries
	if req.Body != nil && req.GetBody == nil {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		out := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			out.Body = body
		}

		var wait time.Duration
		resp, err := c.httpClient.Do(out)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
			wait = parseRetryAfter(resp)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("rate limited (status %d)", resp.StatusCode)
		default:
			return resp, nil
		}

		if attempt == attempts {
			break
		}
		if d := c.backoff.Delay(attempt); d > wait {
			wait = d
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// GetUnderlyingClient returns the underlying *http.Client.
func (c *Client) GetUnderlyingClient() *http.Client {
	return c.httpClient
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header and returns the duration to wait.
func parseRetryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return time.Until(t)
	}
	return 0
}
