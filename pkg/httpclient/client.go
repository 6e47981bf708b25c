// Package httpclient provides the retrying HTTP client shared by the
// gateways. Retries follow the platform policy: exponential backoff with
// a 2s base, doubling up to a 16s cap, at most 4 attempts per endpoint.
// Retryable failures are network timeouts, refused connections, HTTP 5xx,
// and 429; any other 4xx aborts immediately.
package httpclient

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"time"
)

// RetryStrategy classifies how a response status should be retried.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	BackoffRetry
	RateLimitRetry
)

// RateLimitInfo carries what a provider's rate-limit headers said about
// when to come back.
type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
}

// RateLimitHeaderParser extracts rate-limit hints from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc maps a status code to a retry strategy.
type RetryStrategyFunc func(statusCode int) RetryStrategy

// Client wraps *http.Client with the retry policy.
type Client struct {
	client       *http.Client
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Use this to share
// a pooled transport across gateway instances.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxAttempts bounds the total number of tries (first call included).
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithBackoff sets the base delay and the cap of the exponential backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = max
	}
}

// WithHeaderParser installs a provider-specific rate-limit header parser.
func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

// WithRetryStrategy replaces the status-code classifier.
func WithRetryStrategy(fn RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = fn }
}

// New builds a Client with the platform defaults.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 30 * time.Second},
		maxAttempts:  4,
		baseDelay:    2 * time.Second,
		maxDelay:     16 * time.Second,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRetryStrategy implements the platform policy: 429 honors
// rate-limit headers, 5xx backs off, everything else is final.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return RateLimitRetry
	case statusCode >= 500:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// Do executes the request with retries. Requests with a body must set
// GetBody so the body can be replayed; http.NewRequest does this for
// common body types. The caller's context governs the overall deadline:
// backoff sleeps abort when the context is done.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, &RetryableError{Message: "failed to replay request body", Err: err}
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if !isRetryableTransport(err) {
				return nil, err
			}
			lastErr = err
			lastStatus = 0
			if attempt == c.maxAttempts-1 {
				break
			}
			if sleepErr := sleepCtx(req.Context(), c.backoffDelay(attempt)); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := c.strategyFunc(resp.StatusCode)
		if strategy == NoRetry {
			return resp, nil
		}

		var info RateLimitInfo
		if c.headerParser != nil {
			info = c.headerParser(resp.Header)
		}

		lastStatus = resp.StatusCode
		lastErr = errorFromStatus(resp.StatusCode)
		drainClose(resp)

		if attempt == c.maxAttempts-1 {
			break
		}

		delay := c.backoffDelay(attempt)
		if strategy == RateLimitRetry {
			if d := rateLimitDelay(info); d > 0 && d < c.maxDelay {
				delay = d
			}
		}
		if err := sleepCtx(req.Context(), delay); err != nil {
			return nil, err
		}
	}

	return nil, &RetryableError{
		StatusCode: lastStatus,
		Message:    "retries exhausted",
		Err:        lastErr,
	}
}

// backoffDelay returns base * 2^attempt, capped.
func (c *Client) backoffDelay(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	if d > c.maxDelay {
		d = c.maxDelay
	}
	return d
}

func rateLimitDelay(info RateLimitInfo) time.Duration {
	if info.RetryAfter > 0 {
		return info.RetryAfter
	}
	if info.ResetTime > 0 {
		if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
			return d
		}
	}
	return 0
}

// isRetryableTransport reports whether a transport-level error is worth
// retrying: timeouts and refused/reset connections are; anything caused
// by the caller's context is not.
func isRetryableTransport(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// url.Error wrapping EOF or similar mid-transfer failures.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func drainClose(resp *http.Response) {
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// NewPooledHTTPClient builds the process-wide HTTP client the gateways
// share: one connection pool, no per-request client creation.
func NewPooledHTTPClient(maxConns, maxIdleConns int, idleTimeout, requestTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     maxConns,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleTimeout,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: idleTimeout,
		}).DialContext,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}
