package metrics

import (
	"strconv"

	"github.com/pulsegate/pulsegate/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName = "errors_total"
	PanicsTotalName = "panics_total"
)

// RecordError counts an error envelope written to a caller, labelled with the
// route family that produced it.
func RecordError(errorCode string, httpStatus int, family string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsTotalName,
			1,
			map[string]string{
				"error_code":  errorCode,
				"http_status": strconv.Itoa(httpStatus),
				"family":      family,
			},
		)
	}
}

// RecordPanic counts a recovered handler panic.
func RecordPanic(family string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			PanicsTotalName,
			1,
			map[string]string{"family": family},
		)
	}
}
