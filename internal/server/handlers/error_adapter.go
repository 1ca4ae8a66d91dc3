package handlers

import (
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/pulsegate/pulsegate/internal/errors"
)

// writeError maps err to an envelope and writes it. Throttle errors carry a
// Retry-After header computed against now; envelopes pass through unchanged.
func writeError(w http.ResponseWriter, r *http.Request, err error, now time.Time) {
	if seconds := apperrors.RetryAfterSeconds(err, now); seconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	apperrors.RespondWithEnvelope(w, r, apperrors.FromDomain(r.Context(), err))
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err, time.Now().UTC())
}
