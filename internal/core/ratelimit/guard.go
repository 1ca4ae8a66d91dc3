package ratelimit

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/metrics"
)

// DefaultLowWater is the remaining-quota level below which a warning is logged.
const DefaultLowWater = 100

const maxInspectBytes = 64 << 10

// Guard is an http.RoundTripper that turns throttled responses into a
// *core.RateLimitSignal error and warns when quota runs low.
type Guard struct {
	Base     http.RoundTripper
	Upstream string
	LowWater int
	Logger   *logging.Logger
	Clock    func() time.Time

	mu        sync.Mutex
	lastQuota Quota
	hasQuota  bool
}

// NewGuard wraps base, or http.DefaultTransport when base is nil.
func NewGuard(base http.RoundTripper, upstream string, logger *logging.Logger) *Guard {
	return &Guard{
		Base:     base,
		Upstream: upstream,
		LowWater: DefaultLowWater,
		Logger:   logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := g.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	quota, hasQuota := ParseQuota(resp.Header)
	if hasQuota {
		g.observe(quota, req)
	}

	var body []byte
	if resp.StatusCode == http.StatusForbidden && resp.Body != nil {
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxInspectBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	if Classify(resp.StatusCode, resp.Header, body) != OutcomeThrottled {
		return resp, nil
	}

	if resp.Body != nil {
		_ = resp.Body.Close()
	}

	signal := &core.RateLimitSignal{
		Upstream:   g.Upstream,
		Remaining:  quota.Remaining,
		ResetEpoch: quota.ResetEpoch,
		StatusCode: resp.StatusCode,
	}
	if signal.ResetEpoch == 0 {
		if wait := RetryAfter(resp.Header); wait > 0 {
			signal.ResetEpoch = g.now().Add(wait).Unix()
		}
	}

	metrics.RecordThrottle(g.Upstream)
	if g.Logger != nil {
		g.Logger.Warn("Upstream rate limit exceeded",
			zap.String("upstream", g.Upstream),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.Int("remaining", signal.Remaining),
			zap.Int64("reset_epoch", signal.ResetEpoch))
	}
	return nil, signal
}

// LastQuota returns the most recent quota headers seen, if any.
func (g *Guard) LastQuota() (Quota, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastQuota, g.hasQuota
}

func (g *Guard) observe(quota Quota, req *http.Request) {
	g.mu.Lock()
	g.lastQuota = quota
	g.hasQuota = true
	g.mu.Unlock()

	metrics.SetQuotaRemaining(g.Upstream, quota.Remaining)

	lowWater := g.LowWater
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	if quota.Remaining >= 0 && quota.Remaining < lowWater {
		metrics.RecordQuotaLow(g.Upstream)
		if g.Logger != nil {
			g.Logger.Warn("Upstream quota running low",
				zap.String("upstream", g.Upstream),
				zap.String("path", req.URL.Path),
				zap.Int("remaining", quota.Remaining),
				zap.Time("reset_at", quota.ResetAt()))
		}
	}
}

func (g *Guard) base() http.RoundTripper {
	if g.Base != nil {
		return g.Base
	}
	return http.DefaultTransport
}

func (g *Guard) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}
