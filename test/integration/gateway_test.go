package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/config"
	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/cache"
	"github.com/pulsegate/pulsegate/internal/core/engine"
	"github.com/pulsegate/pulsegate/internal/core/ratelimit"
	"github.com/pulsegate/pulsegate/internal/core/trello"
	"github.com/pulsegate/pulsegate/internal/server"
	"github.com/pulsegate/pulsegate/internal/server/handlers"
	"github.com/pulsegate/pulsegate/internal/server/middleware"
)

// fakeTrello serves one board with two lists. Setting throttled makes every
// call answer 429.
type fakeTrello struct {
	throttled atomic.Bool
	calls     atomic.Int64
}

func (f *fakeTrello) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if f.throttled.Load() {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"API_TOKEN_LIMIT_EXCEEDED"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/1/members/me/boards":
		_, _ = w.Write([]byte(`[{"id":"b1","name":"Roadmap","url":"https://trello.com/b/b1","closed":false}]`))
	case "/1/boards/b1/lists":
		_, _ = w.Write([]byte(`[{"id":"l1","name":"Doing","pos":1},{"id":"l2","name":"Done","pos":2}]`))
	case "/1/lists/l1/cards":
		_, _ = w.Write([]byte(`[{"id":"c1","name":"Ship it","desc":"","idMembers":["m1"],"labels":[{"name":"release"}]}]`))
	case "/1/lists/l2/cards":
		_, _ = w.Write([]byte(`[]`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`"model not found"`))
	}
}

func newGateway(t *testing.T) (*fakeTrello, *httptest.Server) {
	t.Helper()

	upstream, _, handler := newGatewayHandler(t)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return upstream, ts
}

// newGatewayHandler wires a real Trello client, cache store and orchestrator
// behind the server router.
func newGatewayHandler(t *testing.T) (*fakeTrello, *cache.Store, http.Handler) {
	t.Helper()

	upstream := &fakeTrello{}
	trelloServer := httptest.NewServer(upstream)
	t.Cleanup(trelloServer.Close)

	client := &trello.Client{
		BaseURL:     trelloServer.URL + "/1",
		APIKey:      "key",
		APIToken:    "token",
		HTTPClient:  trelloServer.Client(),
		Window:      ratelimit.NewWindow(90, 10*time.Second),
		MaxAttempts: 1,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}

	store, err := cache.New(cache.DefaultPolicies())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	orchestrator := &engine.Orchestrator{
		Boards:    client,
		Cache:     store,
		KeySecret: []byte("integration-secret"),
	}

	handlers.InitHealthManager("test")
	handlers.GetHealthManager().RegisterChecker("cache", store)
	srv := server.New(config.ServerConfig{Host: "127.0.0.1"}, &handlers.API{
		Fetcher: orchestrator,
		Boards:  client,
	}, server.WithCacheStats(store))

	return upstream, store, srv.Handler()
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp
}

func TestGatewayBoardAggregateFallsBackToCache(t *testing.T) {
	upstream, ts := newGateway(t)

	var live core.BoardAggregate
	resp := getJSON(t, ts.URL+"/v1/trello/boards/b1/aggregate", &live)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "live", resp.Header.Get(middleware.DataSourceHeader))
	require.Len(t, live.Lists, 2)
	assert.Equal(t, core.TaskInProgress, live.Lists[0].Status)
	assert.Equal(t, core.TaskDone, live.Lists[1].Status)
	require.Len(t, live.Lists[0].Cards, 1)
	assert.Equal(t, []string{"release"}, live.Lists[0].Cards[0].Labels)
	assert.Equal(t, []string{"m1"}, live.Lists[0].Cards[0].MemberIDs)

	upstream.throttled.Store(true)

	var cached core.BoardAggregate
	resp = getJSON(t, ts.URL+"/v1/trello/boards/b1/aggregate", &cached)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cache", resp.Header.Get(middleware.DataSourceHeader))
	assert.Equal(t, live.Lists, cached.Lists)

	var status handlers.RateLimitResponse
	resp = getJSON(t, ts.URL+"/v1/rate-limit/trello", &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, status.Throttled)
	assert.Equal(t, "trello", status.Upstream)
}

func TestGatewayBoardAggregateWithoutFallbackFails(t *testing.T) {
	upstream, ts := newGateway(t)
	upstream.throttled.Store(true)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	resp := getJSON(t, ts.URL+"/v1/trello/boards/b1/aggregate", &envelope)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.NotEmpty(t, envelope.Error.Code)
}

func TestGatewayBrowsesBoards(t *testing.T) {
	upstream, ts := newGateway(t)

	var boards []core.Board
	resp := getJSON(t, ts.URL+"/v1/trello/boards/me", &boards)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, boards, 1)
	assert.Equal(t, "Roadmap", boards[0].Name)

	resp = getJSON(t, ts.URL+"/v1/trello/lists/missing/cards", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int64(2), upstream.calls.Load())
}
