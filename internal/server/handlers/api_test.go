package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/engine"
	"github.com/pulsegate/pulsegate/internal/core/trello"
	apperrors "github.com/pulsegate/pulsegate/internal/errors"
)

var fixedNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type stubFetcher struct {
	identity   string
	credential string

	insights    *core.InsightsSnapshot
	repos       *core.RepositoryList
	board       *core.BoardAggregate
	err         error
	signals     map[string]core.RateLimitSignal
	lastBoardID string
}

func (s *stubFetcher) FetchInsightsWithFallback(_ context.Context, identity, credential string) (*core.InsightsSnapshot, error) {
	s.identity, s.credential = identity, credential
	if s.err != nil {
		return nil, s.err
	}
	return s.insights, nil
}

func (s *stubFetcher) FetchRepositoriesWithFallback(_ context.Context, credential string) (*core.RepositoryList, error) {
	s.credential = credential
	if s.err != nil {
		return nil, s.err
	}
	return s.repos, nil
}

func (s *stubFetcher) FetchBoardWithFallback(_ context.Context, boardID string) (*core.BoardAggregate, error) {
	s.lastBoardID = boardID
	if s.err != nil {
		return nil, s.err
	}
	return s.board, nil
}

func (s *stubFetcher) RateLimitStatus(upstream string) (core.RateLimitSignal, bool) {
	signal, ok := s.signals[upstream]
	return signal, ok
}

type stubBrowser struct {
	err error
}

func (b stubBrowser) GetBoards(_ context.Context, memberID string) ([]core.Board, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []core.Board{{ID: "b1", Name: memberID + "'s board"}}, nil
}

func (b stubBrowser) GetLists(_ context.Context, boardID string) ([]core.List, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []core.List{{ID: "l1", Name: "Doing", IDBoard: boardID}}, nil
}

func (b stubBrowser) GetCards(_ context.Context, listID string) ([]core.Card, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []core.Card{{ID: "c1", Name: "Ship it", IDList: listID, IDMembers: []string{}}}, nil
}

func newTestRouter(api *API) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", api.Routes)
	return r
}

func serve(t *testing.T, handler http.Handler, path, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestCredentialSchemes(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"token xyz":    "xyz",
		"TOKEN  xyz  ": "xyz",
		"Basic Zm9v":   "",
		"abc":          "",
		"":             "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		require.Equal(t, want, Credential(req), "header %q", header)
	}
}

func TestInsightsServesSnapshotWithCacheHeaders(t *testing.T) {
	fetcher := &stubFetcher{insights: &core.InsightsSnapshot{
		Username:   "octocat",
		RepoCount:  8,
		Provenance: core.Provenance{Source: core.SourceCache},
	}}
	handler := newTestRouter(&API{Fetcher: fetcher, Clock: func() time.Time { return fixedNow }})

	rec := serve(t, handler, "/v1/github/insights/octocat", "Bearer secret")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "private, max-age=300, must-revalidate", rec.Header().Get("Cache-Control"))
	require.Equal(t, "cache", rec.Header().Get("X-Data-Source"))
	require.Equal(t, "octocat", fetcher.identity)
	require.Equal(t, "secret", fetcher.credential)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "octocat", body["username"])
	require.EqualValues(t, 8, body["repo_count"])
	require.NotContains(t, body, "Provenance")
}

func TestInsightsMissingCredentialIsBadRequest(t *testing.T) {
	handler := newTestRouter(&API{Fetcher: &stubFetcher{err: engine.ErrMissingCredential}})

	rec := serve(t, handler, "/v1/github/insights/octocat", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, apperrors.CodeInvalidInput, decodeError(t, rec).Error.Code)
}

func TestRepositoriesServesListWithCacheHeaders(t *testing.T) {
	fetcher := &stubFetcher{repos: &core.RepositoryList{
		Repositories: []core.Repository{{Name: "alpha"}, {Name: "beta"}},
		Provenance:   core.Provenance{Source: core.SourceLive},
	}}
	handler := newTestRouter(&API{Fetcher: fetcher})

	rec := serve(t, handler, "/v1/github/repositories", "token secret")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "private, max-age=600, must-revalidate", rec.Header().Get("Cache-Control"))
	require.Equal(t, "secret", fetcher.credential)

	var repos []core.Repository
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&repos))
	require.Len(t, repos, 2)
}

func TestRepositoriesWithoutDataIsNotFound(t *testing.T) {
	err := fmt.Errorf("%w: %w", engine.ErrNoRepositoryData, errors.New("boom"))
	handler := newTestRouter(&API{Fetcher: &stubFetcher{err: err}})

	rec := serve(t, handler, "/v1/github/repositories", "Bearer secret")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestThrottledErrorSetsRetryAfter(t *testing.T) {
	signal := &core.RateLimitSignal{Upstream: core.UpstreamTrello, ResetEpoch: fixedNow.Add(45 * time.Second).Unix()}
	err := fmt.Errorf("%w: /boards/b1/lists after 3 attempts: %w", trello.ErrRetriesExhausted, signal)
	handler := newTestRouter(&API{
		Fetcher: &stubFetcher{err: err},
		Clock:   func() time.Time { return fixedNow },
	})

	rec := serve(t, handler, "/v1/trello/boards/b1/aggregate", "")

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "45", rec.Header().Get("Retry-After"))
}

func TestBoardAggregateRoute(t *testing.T) {
	fetcher := &stubFetcher{board: &core.BoardAggregate{
		BoardID:    "b1",
		Lists:      []core.ListAggregate{{ID: "l1", Name: "Done", Status: core.TaskDone, Cards: []core.TaskCard{}}},
		Provenance: core.Provenance{Source: core.SourceArchive},
	}}
	handler := newTestRouter(&API{Fetcher: fetcher})

	rec := serve(t, handler, "/v1/trello/boards/b1/aggregate", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "b1", fetcher.lastBoardID)
	require.Equal(t, "archive", rec.Header().Get("X-Data-Source"))

	var aggregate core.BoardAggregate
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&aggregate))
	require.Equal(t, core.TaskDone, aggregate.Lists[0].Status)
}

func TestBrowseRoutes(t *testing.T) {
	handler := newTestRouter(&API{Fetcher: &stubFetcher{}, Boards: stubBrowser{}})

	rec := serve(t, handler, "/v1/trello/boards/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var boards []core.Board
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&boards))
	require.Equal(t, "me's board", boards[0].Name)

	rec = serve(t, handler, "/v1/trello/boards/b1/lists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var lists []core.List
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&lists))
	require.Equal(t, "b1", lists[0].IDBoard)

	rec = serve(t, handler, "/v1/trello/lists/l1/cards", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cards []core.Card
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cards))
	require.Equal(t, "l1", cards[0].IDList)
}

func TestBrowseUpstreamNotFound(t *testing.T) {
	apiErr := &trello.APIError{StatusCode: http.StatusNotFound, Path: "/boards/nope/lists"}
	handler := newTestRouter(&API{Fetcher: &stubFetcher{}, Boards: stubBrowser{err: apiErr}})

	rec := serve(t, handler, "/v1/trello/boards/nope/lists", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrowseWithoutTrelloConfigured(t *testing.T) {
	handler := newTestRouter(&API{Fetcher: &stubFetcher{}})

	rec := serve(t, handler, "/v1/trello/lists/l1/cards", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, apperrors.CodeConfigInvalid, decodeError(t, rec).Error.Code)
}

func TestRateLimitStatus(t *testing.T) {
	reset := fixedNow.Add(time.Hour)
	fetcher := &stubFetcher{signals: map[string]core.RateLimitSignal{
		core.UpstreamGitHub: {Upstream: core.UpstreamGitHub, Remaining: 0, ResetEpoch: reset.Unix()},
	}}
	handler := newTestRouter(&API{Fetcher: fetcher})

	rec := serve(t, handler, "/v1/rate-limit/GitHub", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status RateLimitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.True(t, status.Throttled)
	require.NotNil(t, status.Remaining)
	require.Equal(t, 0, *status.Remaining)
	require.True(t, status.ResetAt.Equal(reset))

	rec = serve(t, handler, "/v1/rate-limit/trello", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status = RateLimitResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.False(t, status.Throttled)
	require.Nil(t, status.ResetAt)

	rec = serve(t, handler, "/v1/rate-limit/gitlab", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
