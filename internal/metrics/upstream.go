package metrics

import (
	"time"

	"github.com/pulsegate/pulsegate/internal/observability"
)

// Upstream and cache metric names
const (
	CacheLookupsTotal      = "cache_lookups_total"
	CacheEntries           = "cache_entries"
	UpstreamThrottledTotal = "upstream_throttled_total"
	UpstreamQuotaRemaining = "upstream_quota_remaining"
	UpstreamQuotaLowTotal  = "upstream_quota_low_total"
	UpstreamCallsTotal     = "upstream_calls_total"
	UpstreamCallDuration   = "upstream_call_duration_ms"
	UpstreamRetriesTotal   = "upstream_retries_total"
	WindowWaitDuration     = "rate_window_wait_ms"
)

// RecordCacheLookup records a hit or miss on a named cache.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{
				"cache":  cache,
				"result": result,
			},
		)
	}
}

// SetCacheEntries reports the live entry count of a named cache.
func SetCacheEntries(cache string, entries int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			CacheEntries,
			float64(entries),
			map[string]string{"cache": cache},
		)
	}
}

// RecordThrottle records an upstream refusing a call for quota reasons.
func RecordThrottle(upstream string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamThrottledTotal,
			1,
			map[string]string{
				"upstream": upstream,
			},
		)
	}
}

// SetQuotaRemaining records the last advertised remaining quota.
func SetQuotaRemaining(upstream string, remaining int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			UpstreamQuotaRemaining,
			float64(remaining),
			map[string]string{
				"upstream": upstream,
			},
		)
	}
}

// RecordQuotaLow records a response whose remaining quota fell below the low-water mark.
func RecordQuotaLow(upstream string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamQuotaLowTotal,
			1,
			map[string]string{
				"upstream": upstream,
			},
		)
	}
}

// RecordUpstreamCall records one upstream sub-call and its outcome.
func RecordUpstreamCall(upstream string, call string, outcome string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamCallsTotal,
			1,
			map[string]string{
				"upstream": upstream,
				"call":     call,
				"outcome":  outcome,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			UpstreamCallDuration,
			duration,
			map[string]string{
				"upstream": upstream,
				"call":     call,
			},
		)
	}
}

// RecordRetry records a retried upstream call.
func RecordRetry(upstream string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamRetriesTotal,
			1,
			map[string]string{
				"upstream": upstream,
			},
		)
	}
}

// RecordWindowWait records time spent blocked by a rate window.
func RecordWindowWait(upstream string, wait time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			WindowWaitDuration,
			wait,
			map[string]string{
				"upstream": upstream,
			},
		)
	}
}
