package search

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter interprets a Retry-After header per RFC 7231: either an
// integer number of seconds or an HTTP-date. The result is clamped to max.
// Returns false for absent, malformed, or non-positive values.
func ParseRetryAfter(headerValue string, max time.Duration) (time.Duration, bool) {
	val := strings.TrimSpace(headerValue)
	if val == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseFloat(val, 64); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		d := time.Duration(seconds * float64(time.Second))
		if d > max {
			d = max
		}
		return d, true
	}

	if t, err := http.ParseTime(val); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return 0, false
		}
		if d > max {
			d = max
		}
		return d, true
	}

	return 0, false
}
