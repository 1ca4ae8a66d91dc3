package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/pulsegate/pulsegate/internal/errors"
	"github.com/pulsegate/pulsegate/internal/metrics"
)

// Check and overall statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusUnknown   = "unknown"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of the live, ready and startup endpoints.
type StatusResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

type registeredCheck struct {
	checker  HealthChecker
	optional bool
}

// HealthManager runs named checks. Required checks gate every endpoint.
// Optional checks, such as the shared cache tier or the archive, only
// degrade readiness: the gateway still answers from memory without them.
type HealthManager struct {
	mu      sync.RWMutex
	checks  map[string]registeredCheck
	version string
}

// NewHealthManager creates a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:  make(map[string]registeredCheck),
		version: version,
	}
}

// RegisterChecker registers a required check.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

// RegisterOptional registers a check whose failure degrades but does not fail.
func (hm *HealthManager) RegisterOptional(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

func (hm *HealthManager) register(name string, checker HealthChecker, optional bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = registeredCheck{checker: checker, optional: optional}
}

// runChecks runs the selected checks concurrently and returns a status per name.
func (hm *HealthManager) runChecks(ctx context.Context, includeOptional bool) map[string]string {
	hm.mu.RLock()
	selected := make(map[string]registeredCheck, len(hm.checks))
	for name, check := range hm.checks {
		if check.optional && !includeOptional {
			continue
		}
		selected[name] = check
	}
	hm.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(selected))
		g       errgroup.Group
	)
	for name, check := range selected {
		g.Go(func() error {
			started := time.Now()
			err := check.checker.CheckHealth(ctx)
			metrics.RecordHealthCheck(name, err == nil, time.Since(started))

			status := StatusHealthy
			switch {
			case err == nil:
			case ctx.Err() != nil:
				status = StatusTimeout
			case check.optional:
				status = StatusDegraded
			default:
				status = StatusUnhealthy
			}

			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func overallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		switch status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// HealthHandler serves /health with every check listed by name.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := hm.runChecks(ctx, true)
	status := overallStatus(checks)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope("aggregate health check failed", "aggregate", status, checks))
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler runs required checks only.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveStatus(w, r, "live", 2*time.Second, false)
}

// ReadinessHandler runs every check; optional failures report degraded.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveStatus(w, r, "ready", 5*time.Second, true)
}

// StartupHandler runs required checks only.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveStatus(w, r, "startup", 3*time.Second, false)
}

func (hm *HealthManager) serveStatus(w http.ResponseWriter, r *http.Request, kind string, timeout time.Duration, includeOptional bool) {
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	checks := hm.runChecks(ctx, includeOptional)
	status := overallStatus(checks)
	if status == StatusUnhealthy {
		respondWithError(w, r, healthEnvelope(kind+" check failed", kind, status, checks))
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func healthEnvelope(message, kind, status string, checks map[string]string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(apperrors.CodeUnavailable, message)

	details := map[string]interface{}{
		"status": status,
		"check":  kind,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		envelope, _ = envelope.WithContext(map[string]interface{}{"failing_checks": failing})
	}
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager replaces the process-wide manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// HealthHandler serves /health from the process-wide manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, "aggregate", (*HealthManager).HealthHandler)
}

// LivenessHandler serves /health/live from the process-wide manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, "live", (*HealthManager).LivenessHandler)
}

// ReadinessHandler serves /health/ready from the process-wide manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, "ready", (*HealthManager).ReadinessHandler)
}

// StartupHandler serves /health/startup from the process-wide manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	withManager(w, r, "startup", (*HealthManager).StartupHandler)
}

func withManager(w http.ResponseWriter, r *http.Request, kind string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) {
	if hm := globalHealthManager; hm != nil {
		serve(hm, w, r)
		return
	}
	respondWithError(w, r, healthEnvelope("health manager not initialized", kind, StatusUnknown, nil))
}
