// Package github aggregates developer activity from the GitHub REST and search APIs.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	gogithub "github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pulsegate/pulsegate/internal/config"
	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/ratelimit"
	"github.com/pulsegate/pulsegate/internal/metrics"
)

const (
	defaultBaseURL     = "https://api.github.com/"
	profileURLPrefix   = "https://github.com/"
	recentWindow       = 7 * 24 * time.Hour
	activityWindow     = 30 * 24 * time.Hour
	pageSize           = 100
	searchDateLayout   = "2006-01-02"
	defaultCallTimeout = 10 * time.Second
)

// ErrUpstreamUnavailable is returned when every sub-call of an aggregation failed.
var ErrUpstreamUnavailable = errors.New("github upstream unavailable")

// ErrIdentityRequired is returned when no identity is supplied.
var ErrIdentityRequired = errors.New("github identity is required")

// Aggregator builds insights snapshots from several GitHub endpoints.
type Aggregator struct {
	BaseURL     string
	Transport   http.RoundTripper
	Limiter     *rate.Limiter
	CallTimeout time.Duration
	Concurrency int
	Logger      *logging.Logger
	Clock       func() time.Time

	guard *ratelimit.Guard
	once  sync.Once
}

// NewAggregator builds an Aggregator from configuration.
func NewAggregator(cfg config.GitHubConfig, logger *logging.Logger) *Aggregator {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	a := &Aggregator{
		BaseURL:     cfg.BaseURL,
		Limiter:     limiter,
		CallTimeout: cfg.CallTimeout,
		Concurrency: cfg.Concurrency,
		Logger:      logger,
	}
	a.init()
	if cfg.LowWater > 0 {
		a.guard.LowWater = cfg.LowWater
	}
	return a
}

// Guard exposes the rate guard wrapping every outbound call.
func (a *Aggregator) Guard() *ratelimit.Guard {
	a.init()
	return a.guard
}

func (a *Aggregator) init() {
	a.once.Do(func() {
		a.guard = ratelimit.NewGuard(a.Transport, core.UpstreamGitHub, a.Logger)
		a.guard.Clock = a.Clock
	})
}

// subCall is one upstream request feeding a fixed set of snapshot fields.
type subCall struct {
	name   string
	fields []string
	run    func(ctx context.Context, client *gogithub.Client) (func(*core.InsightsSnapshot), error)
}

// Aggregate fetches every metric for identity using credential. Sub-calls that
// fail for reasons other than throttling leave their fields at zero and are
// marked defaulted in provenance. A throttled sub-call aborts the aggregation
// and its *core.RateLimitSignal is returned.
func (a *Aggregator) Aggregate(ctx context.Context, identity, credential string) (*core.InsightsSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrIdentityRequired
	}

	client, err := a.client(credential)
	if err != nil {
		return nil, err
	}

	requestedAt := a.now()
	snapshot := &core.InsightsSnapshot{
		Username:   identity,
		ProfileURL: profileURLPrefix + identity,
		FetchedAt:  requestedAt,
		Provenance: core.Provenance{
			CheckID:     uuid.New().String(),
			RequestedAt: requestedAt,
			Source:      core.SourceLive,
			Server:      a.baseURL().String(),
			Fields:      make(map[string]core.FieldSource),
		},
	}

	calls := a.insightCalls(identity, requestedAt)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.concurrency())

	var (
		mu       sync.Mutex
		failures int
	)

	for _, call := range calls {
		group.Go(func() error {
			apply, err := a.invoke(groupCtx, client, call)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if signal, ok := AsRateLimitSignal(err, a.now()); ok {
					return signal
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures++
				for _, field := range call.fields {
					snapshot.Provenance.Fields[field] = core.FieldSource{State: core.FieldDefaulted, Error: err.Error()}
				}
				if a.Logger != nil {
					a.Logger.Warn("GitHub sub-call failed, defaulting fields",
						zap.String("call", call.name),
						zap.String("identity", identity),
						zap.Strings("fields", call.fields),
						zap.Error(err))
				}
				return nil
			}

			apply(snapshot)
			for _, field := range call.fields {
				snapshot.Provenance.Fields[field] = core.FieldSource{State: core.FieldLive}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	if failures == len(calls) {
		return nil, fmt.Errorf("%w: all %d calls failed for %s", ErrUpstreamUnavailable, len(calls), identity)
	}

	total := snapshot.Provenance.Fields[core.FieldTotalIssues]
	open := snapshot.Provenance.Fields[core.FieldOpenIssues]
	if total.State == core.FieldLive && open.State == core.FieldLive {
		snapshot.ClosedIssues = snapshot.TotalIssues - snapshot.OpenIssues
		snapshot.Provenance.Fields[core.FieldClosedIssues] = core.FieldSource{State: core.FieldLive}
	} else {
		snapshot.ClosedIssues = 0
		snapshot.Provenance.Fields[core.FieldClosedIssues] = core.FieldSource{
			State: core.FieldDefaulted,
			Error: "issue totals unavailable",
		}
	}

	snapshot.Provenance.ResolvedAt = a.now()
	return snapshot, nil
}

// ListRepositories returns the first page of repositories visible to credential,
// most recently updated first.
func (a *Aggregator) ListRepositories(ctx context.Context, credential string) (*core.RepositoryList, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := a.client(credential)
	if err != nil {
		return nil, err
	}

	requestedAt := a.now()
	var repos []*gogithub.Repository
	call := subCall{
		name: "list_repositories",
		run: func(ctx context.Context, client *gogithub.Client) (func(*core.InsightsSnapshot), error) {
			var err error
			repos, _, err = client.Repositories.List(ctx, "", &gogithub.RepositoryListOptions{
				Sort:        "updated",
				ListOptions: gogithub.ListOptions{PerPage: pageSize},
			})
			return nil, err
		},
	}

	if _, err := a.invoke(ctx, client, call); err != nil {
		if signal, ok := AsRateLimitSignal(err, a.now()); ok {
			return nil, signal
		}
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	list := &core.RepositoryList{
		Repositories: make([]core.Repository, 0, len(repos)),
		FetchedAt:    requestedAt,
		Provenance: core.Provenance{
			CheckID:     uuid.New().String(),
			RequestedAt: requestedAt,
			ResolvedAt:  a.now(),
			Source:      core.SourceLive,
			Server:      a.baseURL().String(),
		},
	}
	for _, repo := range repos {
		if repo == nil {
			continue
		}
		list.Repositories = append(list.Repositories, toRepository(repo))
	}
	return list, nil
}

func (a *Aggregator) insightCalls(identity string, now time.Time) []subCall {
	recentSince := now.Add(-recentWindow)
	activeSince := now.Add(-activityWindow)
	createdSince := "created:>=" + recentSince.Format(searchDateLayout)

	return []subCall{
		{
			name:   "user",
			fields: []string{core.FieldFollowers, core.FieldFollowing, core.FieldPublicGists, core.FieldAvatarURL},
			run: func(ctx context.Context, client *gogithub.Client) (func(*core.InsightsSnapshot), error) {
				user, _, err := client.Users.Get(ctx, identity)
				if err != nil {
					return nil, err
				}
				return func(s *core.InsightsSnapshot) {
					s.Followers = user.GetFollowers()
					s.Following = user.GetFollowing()
					s.PublicGists = user.GetPublicGists()
					s.AvatarURL = user.GetAvatarURL()
				}, nil
			},
		},
		{
			name:   "repositories",
			fields: []string{core.FieldRepoCount, core.FieldTotalStars},
			run: func(ctx context.Context, client *gogithub.Client) (func(*core.InsightsSnapshot), error) {
				repos, _, err := client.Repositories.List(ctx, "", &gogithub.RepositoryListOptions{
					Sort:        "updated",
					ListOptions: gogithub.ListOptions{PerPage: pageSize},
				})
				if err != nil {
					return nil, err
				}
				stars := 0
				for _, repo := range repos {
					stars += repo.GetStargazersCount()
				}
				return func(s *core.InsightsSnapshot) {
					s.RepoCount = len(repos)
					s.TotalStars = stars
				}, nil
			},
		},
		searchCall("search_pull_requests", core.FieldTotalPullRequests,
			"type:pr author:"+identity,
			func(s *core.InsightsSnapshot, total int) { s.TotalPullRequests = total }),
		searchCall("search_issues", core.FieldTotalIssues,
			"type:issue author:"+identity,
			func(s *core.InsightsSnapshot, total int) { s.TotalIssues = total }),
		searchCall("search_open_issues", core.FieldOpenIssues,
			"type:issue author:"+identity+" state:open",
			func(s *core.InsightsSnapshot, total int) { s.OpenIssues = total }),
		searchCall("search_recent_pull_requests", core.FieldRecentPRs,
			"type:pr author:"+identity+" "+createdSince,
			func(s *core.InsightsSnapshot, total int) { s.RecentPRs = total }),
		searchCall("search_recent_issues", core.FieldRecentIssues,
			"type:issue author:"+identity+" "+createdSince,
			func(s *core.InsightsSnapshot, total int) { s.RecentIssues = total }),
		{
			name:   "events",
			fields: []string{core.FieldRecentCommits, core.FieldMostActiveRepo},
			run: func(ctx context.Context, client *gogithub.Client) (func(*core.InsightsSnapshot), error) {
				events, _, err := client.Activity.ListEventsPerformedByUser(ctx, identity, false, &gogithub.ListOptions{PerPage: pageSize})
				if err != nil {
					return nil, err
				}
				activity := toActivity(events)
				commits := RecentCommits(activity, recentSince)
				repo := MostActiveRepo(activity, activeSince)
				return func(s *core.InsightsSnapshot) {
					s.RecentCommits = commits
					s.MostActiveRepo = repo
				}, nil
			},
		},
	}
}

func searchCall(name, field, query string, set func(*core.InsightsSnapshot, int)) subCall {
	return subCall{
		name:   name,
		fields: []string{field},
		run: func(ctx context.Context, client *gogithub.Client) (func(*core.InsightsSnapshot), error) {
			result, _, err := client.Search.Issues(ctx, query, &gogithub.SearchOptions{
				ListOptions: gogithub.ListOptions{PerPage: 1},
			})
			if err != nil {
				return nil, err
			}
			total := result.GetTotal()
			return func(s *core.InsightsSnapshot) { set(s, total) }, nil
		},
	}
}

// invoke paces, bounds, and measures a single sub-call.
func (a *Aggregator) invoke(ctx context.Context, client *gogithub.Client, call subCall) (func(*core.InsightsSnapshot), error) {
	if a.Limiter != nil {
		if err := a.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout())
	defer cancel()

	started := time.Now()
	apply, err := call.run(callCtx, client)
	metrics.RecordUpstreamCall(core.UpstreamGitHub, call.name, callOutcome(err), time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.name, err)
	}
	return apply, nil
}

func (a *Aggregator) client(credential string) (*gogithub.Client, error) {
	a.init()
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, errors.New("github credential is required")
	}

	client := gogithub.NewClient(&http.Client{Transport: a.guard}).WithAuthToken(credential)
	client.BaseURL = a.baseURL()
	return client, nil
}

func (a *Aggregator) baseURL() *url.URL {
	raw := strings.TrimSpace(a.BaseURL)
	if raw == "" {
		raw = defaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		parsed, _ = url.Parse(defaultBaseURL)
	}
	return parsed
}

func (a *Aggregator) callTimeout() time.Duration {
	if a.CallTimeout > 0 {
		return a.CallTimeout
	}
	return defaultCallTimeout
}

func (a *Aggregator) concurrency() int {
	if a.Concurrency > 0 {
		return a.Concurrency
	}
	return 4
}

func (a *Aggregator) now() time.Time {
	if a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}

func callOutcome(err error) string {
	if err == nil {
		return ratelimit.OutcomeOK.String()
	}
	if _, ok := AsRateLimitSignal(err, time.Time{}); ok {
		return ratelimit.OutcomeThrottled.String()
	}
	var apiErr *gogithub.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode < 500 {
		return ratelimit.OutcomeClientError.String()
	}
	return ratelimit.OutcomeServerError.String()
}

// AsRateLimitSignal extracts a throttle signal from err. It understands the
// guard's signal as well as go-github's own rate-limit errors.
func AsRateLimitSignal(err error, now time.Time) (*core.RateLimitSignal, bool) {
	if err == nil {
		return nil, false
	}

	var signal *core.RateLimitSignal
	if errors.As(err, &signal) {
		return signal, true
	}

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		out := &core.RateLimitSignal{
			Upstream:   core.UpstreamGitHub,
			Remaining:  rateErr.Rate.Remaining,
			ResetEpoch: rateErr.Rate.Reset.Unix(),
			StatusCode: http.StatusForbidden,
		}
		if rateErr.Response != nil {
			out.StatusCode = rateErr.Response.StatusCode
		}
		return out, true
	}

	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		out := &core.RateLimitSignal{
			Upstream:   core.UpstreamGitHub,
			StatusCode: http.StatusForbidden,
		}
		if abuseErr.Response != nil {
			out.StatusCode = abuseErr.Response.StatusCode
		}
		if abuseErr.RetryAfter != nil && !now.IsZero() {
			out.ResetEpoch = now.Add(*abuseErr.RetryAfter).Unix()
		}
		return out, true
	}

	return nil, false
}

func toRepository(repo *gogithub.Repository) core.Repository {
	return core.Repository{
		ID:            repo.GetID(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		Description:   repo.GetDescription(),
		HTMLURL:       repo.GetHTMLURL(),
		Language:      repo.GetLanguage(),
		Stars:         repo.GetStargazersCount(),
		Forks:         repo.GetForksCount(),
		OpenIssues:    repo.GetOpenIssuesCount(),
		Private:       repo.GetPrivate(),
		DefaultBranch: repo.GetDefaultBranch(),
		Topics:        repo.Topics,
		CreatedAt:     repo.GetCreatedAt().Time,
		UpdatedAt:     repo.GetUpdatedAt().Time,
	}
}
