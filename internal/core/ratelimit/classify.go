// Package ratelimit detects upstream throttling and paces outbound calls.
package ratelimit

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Outcome classifies an upstream response.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeThrottled
	OutcomeServerError
	OutcomeClientError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeServerError:
		return "server_error"
	case OutcomeClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// Header names carrying quota information. Lookups are case-insensitive.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

var throttlePhrases = [][]byte{
	[]byte("rate limit"),
	[]byte("abuse detection"),
	[]byte("secondary rate limit"),
}

// Quota is the remaining-calls state advertised by an upstream.
type Quota struct {
	Remaining  int
	ResetEpoch int64
}

// ResetAt returns the reset instant, or zero when unknown.
func (q Quota) ResetAt() time.Time {
	if q.ResetEpoch <= 0 {
		return time.Time{}
	}
	return time.Unix(q.ResetEpoch, 0).UTC()
}

// ParseQuota reads the remaining/reset headers. ok is false when remaining is absent or malformed.
func ParseQuota(header http.Header) (Quota, bool) {
	if header == nil {
		return Quota{}, false
	}
	raw := strings.TrimSpace(header.Get(HeaderRemaining))
	if raw == "" {
		return Quota{}, false
	}
	remaining, err := strconv.Atoi(raw)
	if err != nil {
		return Quota{}, false
	}
	quota := Quota{Remaining: remaining}
	if reset, err := strconv.ParseInt(strings.TrimSpace(header.Get(HeaderReset)), 10, 64); err == nil {
		quota.ResetEpoch = reset
	}
	return quota, true
}

// RetryAfter parses a Retry-After header given in seconds.
func RetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := strings.TrimSpace(header.Get(HeaderRetryAfter))
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// Classify maps a response to a closed set of outcomes. A 403 counts as
// throttled when the quota is exhausted or the body names a rate limit; a 429
// is always throttled.
func Classify(status int, header http.Header, body []byte) Outcome {
	switch {
	case status == http.StatusTooManyRequests:
		return OutcomeThrottled
	case status == http.StatusForbidden:
		if quota, ok := ParseQuota(header); ok && quota.Remaining == 0 {
			return OutcomeThrottled
		}
		if mentionsRateLimit(body) {
			return OutcomeThrottled
		}
		return OutcomeClientError
	case status >= 500:
		return OutcomeServerError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeOK
	}
}

func mentionsRateLimit(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, phrase := range throttlePhrases {
		if bytes.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
