package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/metrics"
	"github.com/pulsegate/pulsegate/internal/observability"
)

// Recovery turns a handler panic into a 500 envelope. The panic value and
// stack go to the log only. http.ErrAbortHandler is re-raised so net/http
// can drop the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			requestID := GetRequestID(r.Context())
			family := RouteFamily(r)
			metrics.RecordPanic(family)

			if logger := observability.ServerLogger; logger != nil {
				logger.Error("Handler panic recovered",
					zap.String("family", family),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID),
					zap.String("panic", fmt.Sprint(recovered)),
					zap.ByteString("stack", debug.Stack()))
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal server error").
				WithCorrelationID(requestID)
			writeRecoveredError(w, envelope)
		}()

		next.ServeHTTP(w, r)
	})
}

type recoveredError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// writeRecoveredError mirrors the envelope shape written by the errors
// package, which imports this one.
func writeRecoveredError(w http.ResponseWriter, envelope *errors.ErrorEnvelope) {
	var body recoveredError
	body.Error.Code = envelope.Code
	body.Error.Message = envelope.Message
	body.Error.RequestID = envelope.CorrelationID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(body)
}
