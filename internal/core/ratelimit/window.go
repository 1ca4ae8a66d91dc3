package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default context-aware SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WindowState is a point-in-time copy of a Window.
type WindowState struct {
	Start        time.Time     `json:"start"`
	Count        int           `json:"count"`
	Limit        int           `json:"limit"`
	Duration     time.Duration `json:"duration"`
	BlockedUntil time.Time     `json:"blocked_until,omitempty"`
}

// Window is a fixed-size soft rate window with a hard-limit override. All
// state changes happen under one mutex; callers sleep outside it.
type Window struct {
	Clock func() time.Time

	mu           sync.Mutex
	limit        int
	duration     time.Duration
	start        time.Time
	count        int
	blockedUntil time.Time
}

// NewWindow allows limit calls per duration.
func NewWindow(limit int, duration time.Duration) *Window {
	if limit <= 0 {
		limit = 1
	}
	if duration <= 0 {
		duration = time.Second
	}
	return &Window{limit: limit, duration: duration}
}

// Reserve registers one call and returns how long the caller must wait before
// sending it. The call that exceeds the limit waits for the window to end and
// opens the next window.
func (w *Window) Reserve() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.start.IsZero() || !now.Before(w.start.Add(w.duration)) {
		w.start = now
		w.count = 0
	}

	w.count++

	var wait time.Duration
	if w.count > w.limit {
		end := w.start.Add(w.duration)
		wait = end.Sub(now)
		w.start = end
		w.count = 1
	} else if w.start.After(now) {
		wait = w.start.Sub(now)
	}

	if w.blockedUntil.After(now) {
		if blocked := w.blockedUntil.Sub(now); blocked > wait {
			wait = blocked
		}
	}

	return wait
}

// ObserveHardLimit applies upstream quota headers. When remaining is
// exhausted it blocks the window until resetEpoch and returns the wait.
func (w *Window) ObserveHardLimit(remaining int, resetEpoch int64) time.Duration {
	if remaining > 0 || resetEpoch <= 0 {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	reset := time.Unix(resetEpoch, 0).UTC()
	if !reset.After(now) {
		return 0
	}
	if reset.After(w.blockedUntil) {
		w.blockedUntil = reset
	}
	return reset.Sub(now)
}

// State returns a copy of the current window.
func (w *Window) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WindowState{
		Start:        w.start,
		Count:        w.count,
		Limit:        w.limit,
		Duration:     w.duration,
		BlockedUntil: w.blockedUntil,
	}
}

func (w *Window) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now().UTC()
}
