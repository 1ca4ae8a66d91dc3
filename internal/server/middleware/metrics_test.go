package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

// tagsOf returns the tag sets recorded under name.
func tagsOf(collector *telemetrytesting.FakeCollector, name string) []map[string]string {
	var out []map[string]string
	for _, m := range collector.GetMetricsByName(name) {
		out = append(out, m.Tags)
	}
	return out
}

// gatewayRouter mounts stand-ins for the /v1 routes the way the server does.
func gatewayRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/github/insights/{username}", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(DataSourceHeader, "live")
			_, _ = w.Write([]byte(`{}`))
		})
		r.Get("/trello/boards/{boardID}/aggregate", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(DataSourceHeader, "archive")
			_, _ = w.Write([]byte(`{}`))
		})
		r.Get("/rate-limit/{upstream}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
	})
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRequestMetricsLabelsFamilyAndSource(t *testing.T) {
	collector := setupTelemetry(t)
	router := gatewayRouter()

	get(router, "/v1/github/insights/octocat")
	get(router, "/v1/trello/boards/b1/aggregate")
	get(router, "/health/live")

	assert.Equal(t, []map[string]string{
		{"method": "GET", "family": FamilyGitHub, "status": "200", "source": "live"},
		{"method": "GET", "family": FamilyTrello, "status": "200", "source": "archive"},
		{"method": "GET", "family": FamilyHealth, "status": "200", "source": SourceNone},
	}, tagsOf(collector, RequestsTotalName))
	assert.Equal(t, 3, collector.CountMetricsByName(RequestDurationName))
}

func TestRequestMetricsCountsFallbacksOnly(t *testing.T) {
	collector := setupTelemetry(t)
	router := gatewayRouter()

	get(router, "/v1/github/insights/octocat")
	get(router, "/v1/trello/boards/b1/aggregate")

	assert.Equal(t, []map[string]string{
		{"family": FamilyTrello, "source": "archive"},
	}, tagsOf(collector, FallbackRequestsName))
}

func TestRequestMetricsCountsErrorsByFamily(t *testing.T) {
	collector := setupTelemetry(t)
	router := gatewayRouter()

	get(router, "/v1/rate-limit/github")
	rec := get(router, "/v1/github/unknown/route/octocat")
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, []map[string]string{
		{"family": FamilyRateLimit, "status": "502", "error_type": "server_error"},
		{"family": FamilyUnknown, "status": "404", "error_type": "client_error"},
	}, tagsOf(collector, RequestErrorsName))
}

func TestRequestMetricsWithTelemetryDisabled(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	rec := get(gatewayRouter(), "/v1/github/insights/octocat")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", rec.Body.String())
}

func TestRouteFamilyWithoutRouter(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/github/insights/octocat", FamilyGitHub},
		{"/v1/github/repositories", FamilyGitHub},
		{"/v1/trello/lists/l1/cards", FamilyTrello},
		{"/v1/rate-limit/trello", FamilyRateLimit},
		{"/health", FamilyHealth},
		{"/health/ready", FamilyHealth},
		{"/healthz", FamilyUnknown},
		{"/version", FamilyVersion},
		{"/metrics", FamilyMetrics},
		{"/admin/signal", FamilyAdmin},
		{"/v1/gitlab/projects", FamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.want, RouteFamily(req))
		})
	}
	assert.Equal(t, FamilyUnknown, RouteFamily(nil))
}

func TestDataSource(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, SourceNone, DataSource(h))
	h.Set(DataSourceHeader, "cache")
	assert.Equal(t, "cache", DataSource(h))
}
