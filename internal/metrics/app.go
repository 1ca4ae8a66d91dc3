package metrics

import (
	"time"

	"github.com/pulsegate/pulsegate/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Orchestrated fetch metrics
	FetchTotal          = "fetch_operations_total"
	FetchDuration       = "fetch_operation_duration_ms"
	FallbackServedTotal = "fallback_served_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// RecordFetch records one orchestrated fetch with the source that served it.
func RecordFetch(operation string, source string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FetchTotal,
			1,
			map[string]string{
				"operation": operation,
				"source":    source,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			FetchDuration,
			duration,
			map[string]string{
				"operation": operation,
			},
		)
	}
}

// RecordFallback records a result served from something other than a live call.
func RecordFallback(operation string, source string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FallbackServedTotal,
			1,
			map[string]string{
				"operation": operation,
				"source":    source,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
