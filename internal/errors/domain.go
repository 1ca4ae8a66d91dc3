package errors

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/engine"
	"github.com/pulsegate/pulsegate/internal/core/github"
	"github.com/pulsegate/pulsegate/internal/core/trello"
)

// FromDomain maps an orchestrator or upstream error to an envelope.
func FromDomain(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		return EnsureEnvelope(nil)
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope != nil {
		return envelope
	}

	switch {
	case stderrors.Is(err, engine.ErrMissingIdentity),
		stderrors.Is(err, engine.ErrMissingCredential),
		stderrors.Is(err, engine.ErrMissingBoard),
		stderrors.Is(err, github.ErrIdentityRequired):
		return WrapInvalidInput(ctx, err, err.Error())
	case stderrors.Is(err, engine.ErrBoardsNotConfigured):
		return WrapConfigInvalid(ctx, err, "trello is not configured")
	case stderrors.Is(err, engine.ErrNoRepositoryData):
		return WrapNotFound(ctx, err, "no repository data available")
	case stderrors.Is(err, trello.ErrRetriesExhausted),
		stderrors.Is(err, github.ErrUpstreamUnavailable):
		return WrapExternalService(ctx, err, "upstream unavailable")
	case stderrors.Is(err, context.DeadlineExceeded):
		return WrapTimeout(ctx, err, "upstream timed out")
	}

	var signal *core.RateLimitSignal
	if stderrors.As(err, &signal) {
		env := WrapRateLimited(ctx, err, signal.Error())
		details := map[string]interface{}{"upstream": signal.Upstream}
		if reset := signal.ResetAt(); !reset.IsZero() {
			details["reset_at"] = reset.Format(time.RFC3339)
		}
		return env.WithDetails(details)
	}

	var apiErr *trello.APIError
	if stderrors.As(err, &apiErr) {
		if apiErr.StatusCode == 404 {
			return WrapNotFound(ctx, err, "board resource not found")
		}
		return WrapExternalService(ctx, err, "upstream returned status "+strconv.Itoa(apiErr.StatusCode))
	}

	return WrapExternalService(ctx, err, "upstream request failed")
}

// RetryAfterSeconds returns the seconds until a throttle resets, or 0.
func RetryAfterSeconds(err error, now time.Time) int {
	var signal *core.RateLimitSignal
	if !stderrors.As(err, &signal) {
		return 0
	}
	reset := signal.ResetAt()
	if reset.IsZero() || !reset.After(now) {
		return 0
	}
	return int(reset.Sub(now).Round(time.Second) / time.Second)
}
