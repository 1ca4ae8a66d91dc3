package core

import (
	"fmt"
	"time"
)

// Upstream names.
const (
	UpstreamGitHub = "github"
	UpstreamTrello = "trello"
)

// RateLimitSignal reports that an upstream refused a call because its quota is exhausted.
type RateLimitSignal struct {
	Upstream   string `json:"upstream"`
	Remaining  int    `json:"remaining"`
	ResetEpoch int64  `json:"reset_epoch"`
	StatusCode int    `json:"status_code,omitempty"`
}

func (s *RateLimitSignal) Error() string {
	if s == nil {
		return "rate limited"
	}
	upstream := s.Upstream
	if upstream == "" {
		upstream = "upstream"
	}
	if s.ResetEpoch > 0 {
		return fmt.Sprintf("%s rate limit exceeded (remaining=%d, resets at %s)",
			upstream, s.Remaining, s.ResetAt().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s rate limit exceeded (remaining=%d)", upstream, s.Remaining)
}

// ResetAt returns the quota reset time, or the zero time when unknown.
func (s *RateLimitSignal) ResetAt() time.Time {
	if s == nil || s.ResetEpoch <= 0 {
		return time.Time{}
	}
	return time.Unix(s.ResetEpoch, 0).UTC()
}

// QuotaObservation is a persisted record of upstream quota headers.
type QuotaObservation struct {
	Upstream   string    `json:"upstream"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	Throttled  bool      `json:"throttled"`
	StatusCode int       `json:"status_code,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Observation converts a signal into a throttled quota observation.
func (s *RateLimitSignal) Observation(observedAt time.Time) QuotaObservation {
	return QuotaObservation{
		Upstream:   s.Upstream,
		Remaining:  s.Remaining,
		ResetAt:    s.ResetAt(),
		Throttled:  true,
		StatusCode: s.StatusCode,
		ObservedAt: observedAt,
	}
}
