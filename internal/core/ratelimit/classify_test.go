package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func headerWith(remaining, reset string) http.Header {
	h := http.Header{}
	if remaining != "" {
		h.Set("x-ratelimit-remaining", remaining)
	}
	if reset != "" {
		h.Set("x-ratelimit-reset", reset)
	}
	return h
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   Outcome
	}{
		{name: "OK", status: http.StatusOK, want: OutcomeOK},
		{name: "NotModified", status: http.StatusNotModified, want: OutcomeOK},
		{name: "ForbiddenExhausted", status: http.StatusForbidden, header: headerWith("0", "1735693200"), want: OutcomeThrottled},
		{name: "ForbiddenRateLimitBody", status: http.StatusForbidden, header: headerWith("12", ""), body: `{"message":"API rate limit exceeded for user"}`, want: OutcomeThrottled},
		{name: "ForbiddenAbuseBody", status: http.StatusForbidden, body: `You have triggered an abuse detection mechanism`, want: OutcomeThrottled},
		{name: "ForbiddenPlain", status: http.StatusForbidden, header: headerWith("4000", ""), body: `{"message":"Resource not accessible by integration"}`, want: OutcomeClientError},
		{name: "TooManyRequests", status: http.StatusTooManyRequests, want: OutcomeThrottled},
		{name: "NotFound", status: http.StatusNotFound, want: OutcomeClientError},
		{name: "Unauthorized", status: http.StatusUnauthorized, want: OutcomeClientError},
		{name: "BadGateway", status: http.StatusBadGateway, want: OutcomeServerError},
		{name: "Internal", status: http.StatusInternalServerError, want: OutcomeServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.status, tc.header, []byte(tc.body)))
		})
	}
}

func TestParseQuota(t *testing.T) {
	quota, ok := ParseQuota(headerWith("42", "1735693200"))
	require.True(t, ok)
	require.Equal(t, 42, quota.Remaining)
	require.Equal(t, int64(1735693200), quota.ResetEpoch)
	require.Equal(t, time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC), quota.ResetAt())

	_, ok = ParseQuota(headerWith("", "1735693200"))
	require.False(t, ok)

	_, ok = ParseQuota(headerWith("many", ""))
	require.False(t, ok)

	quota, ok = ParseQuota(headerWith("3", "soon"))
	require.True(t, ok)
	require.Zero(t, quota.ResetEpoch)
	require.True(t, quota.ResetAt().IsZero())
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	require.Zero(t, RetryAfter(h))
	h.Set("Retry-After", "30")
	require.Equal(t, 30*time.Second, RetryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	require.Zero(t, RetryAfter(h))
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "ok", OutcomeOK.String())
	require.Equal(t, "throttled", OutcomeThrottled.String())
	require.Equal(t, "server_error", OutcomeServerError.String())
	require.Equal(t, "client_error", OutcomeClientError.String())
}
