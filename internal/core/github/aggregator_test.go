package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/core"
)

var fixedNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeGitHub struct {
	mu          sync.Mutex
	searchTotal map[string]int
	fail        map[string]int
	authHeaders []string
	queries     []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		searchTotal: map[string]int{
			"type:pr author:octocat":                         40,
			"type:issue author:octocat":                      25,
			"type:issue author:octocat state:open":           7,
			"type:pr author:octocat created:>=2024-12-25":    3,
			"type:issue author:octocat created:>=2024-12-25": 2,
		},
		fail: map[string]int{},
	}
}

func (f *fakeGitHub) failPath(key string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = status
}

func (f *fakeGitHub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		query := r.URL.Query().Get("q")
		key := r.URL.Path
		if query != "" {
			key = query
			f.queries = append(f.queries, query)
		}
		status, failing := f.fail[key]
		if !failing {
			status, failing = f.fail["*"]
		}
		total := f.searchTotal[query]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-RateLimit-Remaining", "4000")
		w.Header().Set("X-RateLimit-Reset", "1735693200")

		if failing {
			if status == http.StatusForbidden {
				w.Header().Set("X-RateLimit-Remaining", "0")
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"failure"}`))
			return
		}

		switch r.URL.Path {
		case "/users/octocat":
			_, _ = w.Write([]byte(`{"login":"octocat","followers":12,"following":3,"public_gists":8,"avatar_url":"https://avatars.example/octocat"}`))
		case "/user/repos":
			_, _ = w.Write([]byte(`[
				{"id":1,"name":"alpha","full_name":"octocat/alpha","stargazers_count":10,"topics":["go"]},
				{"id":2,"name":"beta","full_name":"octocat/beta","stargazers_count":5}
			]`))
		case "/search/issues":
			_, _ = fmt.Fprintf(w, `{"total_count":%d,"incomplete_results":false,"items":[]}`, total)
		case "/users/octocat/events":
			_, _ = w.Write([]byte(`[
				{"type":"PushEvent","repo":{"name":"octocat/alpha"},"created_at":"2024-12-31T12:00:00Z","payload":{"size":3}},
				{"type":"PushEvent","repo":{"name":"octocat/beta"},"created_at":"2024-12-30T12:00:00Z","payload":{"size":2}},
				{"type":"IssuesEvent","repo":{"name":"octocat/beta"},"created_at":"2024-12-20T12:00:00Z","payload":{}},
				{"type":"PushEvent","repo":{"name":"octocat/alpha"},"created_at":"2024-12-10T12:00:00Z","payload":{"size":9}},
				{"type":"PushEvent","repo":{"name":"octocat/gamma"},"created_at":"2024-11-01T12:00:00Z","payload":{"size":4}}
			]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		}
	})
}

func newTestAggregator(server *httptest.Server) *Aggregator {
	return &Aggregator{
		BaseURL:   server.URL,
		Transport: server.Client().Transport,
		Clock:     func() time.Time { return fixedNow },
	}
}

func TestAggregateAllCallsSucceed(t *testing.T) {
	fake := newFakeGitHub()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	snapshot, err := newTestAggregator(server).Aggregate(context.Background(), "octocat", "ghp_token")
	require.NoError(t, err)

	require.Equal(t, "octocat", snapshot.Username)
	require.Equal(t, "https://github.com/octocat", snapshot.ProfileURL)
	require.Equal(t, "https://avatars.example/octocat", snapshot.AvatarURL)
	require.Equal(t, 12, snapshot.Followers)
	require.Equal(t, 3, snapshot.Following)
	require.Equal(t, 8, snapshot.PublicGists)
	require.Equal(t, 2, snapshot.RepoCount)
	require.Equal(t, 15, snapshot.TotalStars)
	require.Equal(t, 40, snapshot.TotalPullRequests)
	require.Equal(t, 25, snapshot.TotalIssues)
	require.Equal(t, 7, snapshot.OpenIssues)
	require.Equal(t, 18, snapshot.ClosedIssues)
	require.Equal(t, 3, snapshot.RecentPRs)
	require.Equal(t, 2, snapshot.RecentIssues)
	require.Equal(t, 5, snapshot.RecentCommits)
	require.Equal(t, "octocat/alpha", snapshot.MostActiveRepo)
	require.Equal(t, fixedNow, snapshot.FetchedAt)

	require.Equal(t, core.SourceLive, snapshot.Provenance.Source)
	require.Empty(t, snapshot.Provenance.Defaulted())
	require.Len(t, snapshot.Provenance.Fields, 14)

	for _, header := range fake.authHeaders {
		require.Equal(t, "Bearer ghp_token", header)
	}
}

func TestAggregateDefaultsFailedFields(t *testing.T) {
	fake := newFakeGitHub()
	fake.failPath("type:issue author:octocat state:open", http.StatusInternalServerError)
	fake.failPath("/users/octocat/events", http.StatusBadGateway)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	snapshot, err := newTestAggregator(server).Aggregate(context.Background(), "octocat", "ghp_token")
	require.NoError(t, err)

	require.Equal(t, 25, snapshot.TotalIssues)
	require.Zero(t, snapshot.OpenIssues)
	require.Zero(t, snapshot.ClosedIssues)
	require.Zero(t, snapshot.RecentCommits)
	require.Empty(t, snapshot.MostActiveRepo)
	require.Equal(t, 12, snapshot.Followers)

	require.Equal(t, []string{
		core.FieldClosedIssues,
		core.FieldMostActiveRepo,
		core.FieldOpenIssues,
		core.FieldRecentCommits,
	}, snapshot.Provenance.Defaulted())
	require.Equal(t, core.FieldLive, snapshot.Provenance.Fields[core.FieldTotalIssues].State)
	require.NotEmpty(t, snapshot.Provenance.Fields[core.FieldOpenIssues].Error)
}

func TestAggregateThrottledAborts(t *testing.T) {
	fake := newFakeGitHub()
	fake.failPath("type:pr author:octocat", http.StatusForbidden)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	snapshot, err := newTestAggregator(server).Aggregate(context.Background(), "octocat", "ghp_token")
	require.Nil(t, snapshot)

	var signal *core.RateLimitSignal
	require.True(t, errors.As(err, &signal))
	require.Equal(t, 0, signal.Remaining)
	require.Equal(t, int64(1735693200), signal.ResetEpoch)
}

func TestAggregateAllFailed(t *testing.T) {
	fake := newFakeGitHub()
	fake.failPath("*", http.StatusServiceUnavailable)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	snapshot, err := newTestAggregator(server).Aggregate(context.Background(), "octocat", "ghp_token")
	require.Nil(t, snapshot)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestAggregateRequiresIdentityAndCredential(t *testing.T) {
	agg := &Aggregator{}
	_, err := agg.Aggregate(context.Background(), " ", "token")
	require.ErrorIs(t, err, ErrIdentityRequired)

	_, err = agg.Aggregate(context.Background(), "octocat", "")
	require.Error(t, err)
}

func TestAggregateUsesSearchDateWindow(t *testing.T) {
	fake := newFakeGitHub()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	_, err := newTestAggregator(server).Aggregate(context.Background(), "octocat", "ghp_token")
	require.NoError(t, err)

	recent := 0
	for _, q := range fake.queries {
		if strings.Contains(q, "created:>=2024-12-25") {
			recent++
		}
	}
	require.Equal(t, 2, recent)
}

func TestListRepositories(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/repos", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":7,"name":"alpha","full_name":"octocat/alpha","html_url":"https://github.com/octocat/alpha","language":"Go","stargazers_count":4,"forks_count":1,"private":true,"topics":["cli"]}]`))
	}))
	defer server.Close()

	list, err := newTestAggregator(server).ListRepositories(context.Background(), "ghp_token")
	require.NoError(t, err)
	require.Contains(t, gotQuery, "sort=updated")
	require.Contains(t, gotQuery, "per_page=100")
	require.Len(t, list.Repositories, 1)

	repo := list.Repositories[0]
	require.Equal(t, int64(7), repo.ID)
	require.Equal(t, "octocat/alpha", repo.FullName)
	require.Equal(t, "Go", repo.Language)
	require.Equal(t, 4, repo.Stars)
	require.True(t, repo.Private)
	require.Equal(t, []string{"cli"}, repo.Topics)
	require.Equal(t, fixedNow, list.FetchedAt)
}

func TestListRepositoriesThrottled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestAggregator(server).ListRepositories(context.Background(), "ghp_token")
	var signal *core.RateLimitSignal
	require.True(t, errors.As(err, &signal))
	require.Equal(t, fixedNow.Add(30*time.Second).Unix(), signal.ResetEpoch)
}

func TestListRepositoriesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestAggregator(server).ListRepositories(context.Background(), "ghp_token")
	require.Error(t, err)
	_, throttled := AsRateLimitSignal(err, fixedNow)
	require.False(t, throttled)
}
