package httpclient

import (
	"fmt"
	"net/http"
	"time"
)

// RetryableError is returned when the retry budget is exhausted. The
// last observed status code is preserved so callers can distinguish a
// rate limit from a server failure.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the exhausted retries were caused by 429s.
func (e *RetryableError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// StatusError represents a non-retryable HTTP status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func errorFromStatus(code int) error {
	return &StatusError{StatusCode: code}
}
