package webapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxRetryAfter caps how long a Retry-After header can make the client wait.
const maxRetryAfter = 30 * time.Second

type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// WithRetry makes the client retry idempotent requests up to attempts extra
// times when the store answers 429 or 5xx, or the connection fails. The wait
// doubles from backoff on every attempt unless the response carries a
// Retry-After header. Create requests are never retried.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts < 0 {
			attempts = 0
		}
		c.retry = retryPolicy{attempts: attempts, backoff: backoff}
	}
}

// idempotent reports whether repeating req cannot change the outcome. PATCH
// only qualifies when it is guarded by If-Match and so can never create.
func idempotent(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	case http.MethodPatch:
		return req.Header.Get("If-Match") != ""
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// wait returns the delay before retry number attempt (0-based).
func (p retryPolicy) wait(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return d
		}
	}
	return p.backoff << attempt
}

func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d, true
	}
	return 0, false
}
