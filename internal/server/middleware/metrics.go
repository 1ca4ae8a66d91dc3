package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/observability"
)

// Request metric names.
const (
	RequestsTotalName    = "http_requests_total"
	RequestDurationName  = "http_request_duration_ms"
	ResponseSizeName     = "http_response_size_bytes"
	RequestErrorsName    = "http_errors_total"
	FallbackRequestsName = "http_fallback_responses_total"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// RequestMetrics counts requests by route family and by the data source the
// handler reported, so cache and archive fallbacks show up per family.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		family := RouteFamily(r)
		source := DataSource(rec.Header())
		status := strconv.Itoa(rec.status)

		if telemetry := observability.TelemetrySystem; telemetry != nil {
			_ = telemetry.Counter(RequestsTotalName, 1, map[string]string{
				"method": r.Method,
				"family": family,
				"status": status,
				"source": source,
			})
			_ = telemetry.Histogram(RequestDurationName, duration, map[string]string{
				"method": r.Method,
				"family": family,
				"source": source,
			})
			_ = telemetry.Gauge(ResponseSizeName, float64(rec.bytes), map[string]string{
				"family": family,
			})

			if source != SourceNone && source != string(core.SourceLive) {
				_ = telemetry.Counter(FallbackRequestsName, 1, map[string]string{
					"family": family,
					"source": source,
				})
			}

			if rec.status >= http.StatusBadRequest {
				errorType := "client_error"
				if rec.status >= http.StatusInternalServerError {
					errorType = "server_error"
				}
				_ = telemetry.Counter(RequestErrorsName, 1, map[string]string{
					"family":     family,
					"status":     status,
					"error_type": errorType,
				})
			}
		}

		if logger := observability.ServerLogger; logger != nil {
			logger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("family", family),
				zap.String("source", source),
				zap.Int("status", rec.status),
				zap.Duration("duration", duration),
				zap.Int64("response_size", rec.bytes),
				zap.String("request_id", GetRequestID(r.Context())))
		}
	})
}
