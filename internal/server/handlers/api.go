package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsegate/pulsegate/internal/core"
	apperrors "github.com/pulsegate/pulsegate/internal/errors"
	"github.com/pulsegate/pulsegate/internal/server/middleware"
)

const (
	insightsCacheControl     = "private, max-age=300, must-revalidate"
	repositoriesCacheControl = "private, max-age=600, must-revalidate"
)

// Fetcher is the fallback-aware data source behind the API.
type Fetcher interface {
	FetchInsightsWithFallback(ctx context.Context, identity, credential string) (*core.InsightsSnapshot, error)
	FetchRepositoriesWithFallback(ctx context.Context, credential string) (*core.RepositoryList, error)
	FetchBoardWithFallback(ctx context.Context, boardID string) (*core.BoardAggregate, error)
	RateLimitStatus(upstream string) (core.RateLimitSignal, bool)
}

// BoardBrowser exposes raw kanban reads.
type BoardBrowser interface {
	GetBoards(ctx context.Context, memberID string) ([]core.Board, error)
	GetLists(ctx context.Context, boardID string) ([]core.List, error)
	GetCards(ctx context.Context, listID string) ([]core.Card, error)
}

// API serves the /v1 routes.
type API struct {
	Fetcher Fetcher
	Boards  BoardBrowser
	Clock   func() time.Time
}

// RateLimitResponse reports the last throttle seen for an upstream.
type RateLimitResponse struct {
	Upstream  string     `json:"upstream"`
	Throttled bool       `json:"throttled"`
	Remaining *int       `json:"remaining,omitempty"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/github/insights/{username}", a.Insights)
	r.Get("/github/repositories", a.Repositories)
	r.Get("/trello/boards/{memberID}", a.TrelloBoards)
	r.Get("/trello/boards/{boardID}/lists", a.TrelloLists)
	r.Get("/trello/lists/{listID}/cards", a.TrelloCards)
	r.Get("/trello/boards/{boardID}/aggregate", a.BoardAggregate)
	r.Get("/rate-limit/{upstream}", a.RateLimit)
}

// Insights handles GET /v1/github/insights/{username}.
func (a *API) Insights(w http.ResponseWriter, r *http.Request) {
	snapshot, err := a.Fetcher.FetchInsightsWithFallback(r.Context(), chi.URLParam(r, "username"), Credential(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", insightsCacheControl)
	setSourceHeader(w, snapshot.Provenance.Source)
	writeJSON(w, http.StatusOK, snapshot)
}

// Repositories handles GET /v1/github/repositories.
func (a *API) Repositories(w http.ResponseWriter, r *http.Request) {
	list, err := a.Fetcher.FetchRepositoriesWithFallback(r.Context(), Credential(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", repositoriesCacheControl)
	setSourceHeader(w, list.Provenance.Source)
	writeJSON(w, http.StatusOK, list.Repositories)
}

// TrelloBoards handles GET /v1/trello/boards/{memberID}.
func (a *API) TrelloBoards(w http.ResponseWriter, r *http.Request) {
	if a.Boards == nil {
		a.fail(w, r, apperrors.NewConfigInvalidError("trello is not configured"))
		return
	}
	boards, err := a.Boards.GetBoards(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

// TrelloLists handles GET /v1/trello/boards/{boardID}/lists.
func (a *API) TrelloLists(w http.ResponseWriter, r *http.Request) {
	if a.Boards == nil {
		a.fail(w, r, apperrors.NewConfigInvalidError("trello is not configured"))
		return
	}
	lists, err := a.Boards.GetLists(r.Context(), chi.URLParam(r, "boardID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

// TrelloCards handles GET /v1/trello/lists/{listID}/cards.
func (a *API) TrelloCards(w http.ResponseWriter, r *http.Request) {
	if a.Boards == nil {
		a.fail(w, r, apperrors.NewConfigInvalidError("trello is not configured"))
		return
	}
	cards, err := a.Boards.GetCards(r.Context(), chi.URLParam(r, "listID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// BoardAggregate handles GET /v1/trello/boards/{boardID}/aggregate.
func (a *API) BoardAggregate(w http.ResponseWriter, r *http.Request) {
	aggregate, err := a.Fetcher.FetchBoardWithFallback(r.Context(), chi.URLParam(r, "boardID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	setSourceHeader(w, aggregate.Provenance.Source)
	writeJSON(w, http.StatusOK, aggregate)
}

// RateLimit handles GET /v1/rate-limit/{upstream}.
func (a *API) RateLimit(w http.ResponseWriter, r *http.Request) {
	upstream := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "upstream")))
	if upstream != core.UpstreamGitHub && upstream != core.UpstreamTrello {
		a.fail(w, r, apperrors.NewNotFoundError("unknown upstream: "+upstream))
		return
	}

	response := RateLimitResponse{Upstream: upstream}
	if signal, ok := a.Fetcher.RateLimitStatus(upstream); ok {
		response.Throttled = true
		remaining := signal.Remaining
		response.Remaining = &remaining
		if reset := signal.ResetAt(); !reset.IsZero() {
			response.ResetAt = &reset
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, err, a.now())
}

func (a *API) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}

// Credential extracts the pass-through upstream credential from the
// Authorization header. Both "Bearer" and "token" schemes are accepted.
func Credential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, value, ok := strings.Cut(header, " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "bearer", "token":
		return strings.TrimSpace(value)
	default:
		return ""
	}
}

func setSourceHeader(w http.ResponseWriter, source core.Source) {
	if source != "" {
		w.Header().Set(middleware.DataSourceHeader, string(source))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
