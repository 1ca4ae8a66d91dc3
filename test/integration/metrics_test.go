package integration

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/core/cache"
	"github.com/pulsegate/pulsegate/internal/observability"
)

// isPermissionError reports whether the sandbox refused a loopback bind.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not permitted")
}

// initMetricsOrSkip starts the exporter on an ephemeral port and tears the
// global telemetry state down afterwards.
func initMetricsOrSkip(t *testing.T) {
	t.Helper()

	observability.InitCLILogger("test", false)
	observability.InitServerLogger("test", "info")

	if err := observability.InitMetrics("test", 0, "test"); err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping metrics tests due to sandbox permissions: %v", err)
		}
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		if observability.PrometheusExporter != nil {
			_ = observability.PrometheusExporter.Stop()
			observability.PrometheusExporter = nil
		}
		observability.TelemetrySystem = nil
	})
}

// serveLoopback binds IPv4 loopback explicitly and skips when sockets are refused.
func serveLoopback(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPermissionError(err) {
			t.Skipf("skipping loopback server: %v", err)
		}
		require.NoError(t, err)
	}

	ts := &httptest.Server{Listener: listener, Config: &http.Server{Handler: handler}}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

func scrapeMetrics(t *testing.T, client *http.Client, url string) (string, *http.Response) {
	t.Helper()
	resp, err := client.Get(url + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	return string(body), resp
}

func TestMetricsLabelGatewayTrafficBySource(t *testing.T) {
	initMetricsOrSkip(t)

	upstream, _, handler := newGatewayHandler(t)
	ts := serveLoopback(t, handler)
	client := ts.Client()

	resp, err := client.Get(ts.URL + "/v1/trello/boards/b1/aggregate")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	upstream.throttled.Store(true)

	const requests = 20
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(ts.URL + "/v1/trello/boards/b1/aggregate")
			if err == nil {
				_ = resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	resp, err = client.Get(ts.URL + "/v1/rate-limit/gitlab")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, resp := scrapeMetrics(t, client, ts.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, body, `test_http_requests_total{family="trello",method="GET",source="live",status="200"}`)
	assert.Contains(t, body, `test_http_requests_total{family="trello",method="GET",source="cache",status="200"}`)
	assert.Contains(t, body, `test_http_fallback_responses_total{family="trello",source="cache"}`)
	assert.Contains(t, body, `test_http_errors_total{error_type="client_error",family="rate_limit",status="404"}`)
	assert.Contains(t, body, `family="rate_limit",http_status="404"`)
	assert.Contains(t, body, "test_http_request_duration_ms")
}

func TestMetricsScrapeReportsCacheEntries(t *testing.T) {
	initMetricsOrSkip(t)

	_, _, handler := newGatewayHandler(t)
	ts := serveLoopback(t, handler)
	client := ts.Client()

	resp, err := client.Get(ts.URL + "/v1/trello/boards/b1/aggregate")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	body, resp := scrapeMetrics(t, client, ts.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t,
		strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain; version=0.0.4"),
		"unexpected content type %q", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `test_cache_entries{cache="`+cache.BoardAggregates+`"}`)
}

func TestMetricsUnavailableWithoutExporter(t *testing.T) {
	originalExporter := observability.PrometheusExporter
	originalTelemetry := observability.TelemetrySystem
	observability.PrometheusExporter = nil
	observability.TelemetrySystem = nil
	t.Cleanup(func() {
		observability.PrometheusExporter = originalExporter
		observability.TelemetrySystem = originalTelemetry
	})

	_, _, handler := newGatewayHandler(t)
	ts := serveLoopback(t, handler)

	resp, err := ts.Client().Get(ts.URL + "/health/live")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, resp = scrapeMetrics(t, ts.Client(), ts.URL)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
