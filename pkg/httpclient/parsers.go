package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// StandardHeaderParser reads the conventional Retry-After and
// X-RateLimit-Reset headers emitted by OpenAI-compatible endpoints.
func StandardHeaderParser(h http.Header) RateLimitInfo {
	var info RateLimitInfo

	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			info.RetryAfter = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				info.RetryAfter = d
			}
		}
	}

	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.ResetTime = unix
		}
	}

	return info
}
