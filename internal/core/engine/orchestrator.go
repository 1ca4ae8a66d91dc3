// Package engine serves upstream data with cache and archive fallback.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/cache"
	"github.com/pulsegate/pulsegate/internal/core/store"
	"github.com/pulsegate/pulsegate/internal/core/trello"
	"github.com/pulsegate/pulsegate/internal/metrics"
)

// Operation names used in logs and metrics.
const (
	OpInsights     = "github_insights"
	OpRepositories = "github_repositories"
	OpBoard        = "board_aggregate"
)

const profileURLPrefix = "https://github.com/"

var (
	// ErrMissingIdentity is returned when no developer identity is supplied.
	ErrMissingIdentity = errors.New("identity is required")
	// ErrMissingCredential is returned when no upstream credential is supplied.
	ErrMissingCredential = errors.New("credential is required")
	// ErrMissingBoard is returned when no board id is supplied.
	ErrMissingBoard = errors.New("board id is required")
	// ErrNoRepositoryData is returned when neither live nor stored repositories exist.
	ErrNoRepositoryData = errors.New("no repository data available")
	// ErrBoardsNotConfigured is returned when no kanban source is wired and
	// nothing is stored for the board.
	ErrBoardsNotConfigured = errors.New("board source not configured")
)

// InsightsSource produces live GitHub data.
type InsightsSource interface {
	Aggregate(ctx context.Context, identity, credential string) (*core.InsightsSnapshot, error)
	ListRepositories(ctx context.Context, credential string) (*core.RepositoryList, error)
}

// Archive is the durable tier consulted after the in-memory cache.
type Archive interface {
	SaveSnapshot(ctx context.Context, kind, key string, value any, storedAt time.Time) error
	LoadSnapshot(ctx context.Context, kind, key string, notBefore time.Time, out any) (time.Time, bool, error)
	RecordQuota(ctx context.Context, obs core.QuotaObservation) error
}

// Orchestrator tries the live upstream first and falls back to the cache,
// then the archive, then a degraded result where one is defined.
type Orchestrator struct {
	GitHub        InsightsSource
	Boards        trello.BoardSource
	Cache         *cache.Store
	Archive       Archive
	ArchiveMaxAge time.Duration
	KeySecret     []byte
	Logger        *logging.Logger
	Clock         func() time.Time

	secretOnce sync.Once
	secretErr  error
}

// FetchInsightsWithFallback returns an insights snapshot for identity. Apart
// from missing inputs it never fails: when nothing is stored the result is an
// empty degraded snapshot.
func (o *Orchestrator) FetchInsightsWithFallback(ctx context.Context, identity, credential string) (*core.InsightsSnapshot, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, ErrMissingIdentity
	}
	if strings.TrimSpace(credential) == "" {
		return nil, ErrMissingCredential
	}
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	key := strings.ToLower(identity)

	var err error
	if o.GitHub == nil {
		err = errors.New("github source not configured")
	} else {
		var snapshot *core.InsightsSnapshot
		snapshot, err = o.GitHub.Aggregate(ctx, identity, credential)
		if err == nil && snapshot != nil {
			remember(ctx, o, cache.GitHubInsights, store.KindInsights, key, snapshot)
			metrics.RecordFetch(OpInsights, string(core.SourceLive), time.Since(started))
			return snapshot, nil
		}
		if err == nil {
			err = errors.New("github source returned no snapshot")
		}
	}
	o.noteFailure(ctx, OpInsights, identity, err)

	if snapshot, source, ok := recall[*core.InsightsSnapshot](ctx, o, cache.GitHubInsights, store.KindInsights, key); ok {
		snapshot.Provenance.Source = source
		o.served(OpInsights, source, started)
		return snapshot, nil
	}

	snapshot := o.degradedInsights(identity, err)
	o.served(OpInsights, core.SourceDegraded, started)
	return snapshot, nil
}

// FetchRepositoriesWithFallback returns the repositories visible to credential.
// Stored lists are keyed by a keyed hash of the credential.
func (o *Orchestrator) FetchRepositoriesWithFallback(ctx context.Context, credential string) (*core.RepositoryList, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrMissingCredential
	}
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	key, keyErr := o.credentialKey(credential)

	var err error
	if o.GitHub == nil {
		err = errors.New("github source not configured")
	} else {
		var list *core.RepositoryList
		list, err = o.GitHub.ListRepositories(ctx, credential)
		if err == nil && list != nil {
			if keyErr == nil {
				remember(ctx, o, cache.GitHubRepositories, store.KindRepositories, key, list)
			}
			metrics.RecordFetch(OpRepositories, string(core.SourceLive), time.Since(started))
			return list, nil
		}
		if err == nil {
			err = errors.New("github source returned no repositories")
		}
	}
	o.noteFailure(ctx, OpRepositories, "", err)

	if keyErr == nil {
		if list, source, ok := recall[*core.RepositoryList](ctx, o, cache.GitHubRepositories, store.KindRepositories, key); ok {
			list.Provenance.Source = source
			o.served(OpRepositories, source, started)
			return list, nil
		}
	}

	metrics.RecordFetch(OpRepositories, "none", time.Since(started))
	return nil, fmt.Errorf("%w: %w", ErrNoRepositoryData, err)
}

// FetchBoardWithFallback aggregates a board live and falls back to the last
// stored aggregate. With nothing stored the live error is returned.
func (o *Orchestrator) FetchBoardWithFallback(ctx context.Context, boardID string) (*core.BoardAggregate, error) {
	boardID = strings.TrimSpace(boardID)
	if boardID == "" {
		return nil, ErrMissingBoard
	}
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()

	var err error
	if o.Boards == nil {
		err = ErrBoardsNotConfigured
	} else {
		var aggregate *core.BoardAggregate
		aggregate, err = trello.BuildBoardAggregate(ctx, o.Boards, boardID, o.now())
		if err == nil {
			remember(ctx, o, cache.BoardAggregates, store.KindBoard, boardID, aggregate)
			metrics.RecordFetch(OpBoard, string(core.SourceLive), time.Since(started))
			return aggregate, nil
		}
	}
	o.noteFailure(ctx, OpBoard, boardID, err)

	if aggregate, source, ok := recall[*core.BoardAggregate](ctx, o, cache.BoardAggregates, store.KindBoard, boardID); ok {
		aggregate.Provenance.Source = source
		o.served(OpBoard, source, started)
		return aggregate, nil
	}

	metrics.RecordFetch(OpBoard, "none", time.Since(started))
	return nil, err
}

// RateLimitStatus returns the last throttle recorded for upstream, if it is
// still cached.
func (o *Orchestrator) RateLimitStatus(upstream string) (core.RateLimitSignal, bool) {
	return cache.GetAs[core.RateLimitSignal](o.Cache, cache.RateLimit, strings.ToLower(strings.TrimSpace(upstream)))
}

// remember writes a copy of a live result through to the cache and the archive.
func remember[T any](ctx context.Context, o *Orchestrator, cacheName, kind, key string, value T) {
	if o.Cache != nil {
		if err := cache.PutValue(o.Cache, cacheName, key, value); err != nil {
			o.warn("Cache write failed", zap.String("cache", cacheName), zap.Error(err))
		}
	}
	if o.Archive != nil {
		if err := o.Archive.SaveSnapshot(ctx, kind, key, value, o.now()); err != nil {
			o.warn("Archive write failed", zap.String("kind", kind), zap.Error(err))
		}
	}
}

// recall looks a value up in the cache and then the archive. Archive hits warm
// the cache.
func recall[T any](ctx context.Context, o *Orchestrator, cacheName, kind, key string) (T, core.Source, bool) {
	if value, ok := cache.GetAs[T](o.Cache, cacheName, key); ok {
		return value, core.SourceCache, true
	}

	var zero T
	if o.Archive == nil {
		return zero, "", false
	}

	var notBefore time.Time
	if o.ArchiveMaxAge > 0 {
		notBefore = o.now().Add(-o.ArchiveMaxAge)
	}

	var value T
	_, found, err := o.Archive.LoadSnapshot(ctx, kind, key, notBefore, &value)
	if err != nil {
		o.warn("Archive read failed", zap.String("kind", kind), zap.Error(err))
		return zero, "", false
	}
	if !found {
		return zero, "", false
	}

	if o.Cache != nil {
		if err := cache.PutValue(o.Cache, cacheName, key, value); err != nil {
			o.warn("Cache warm failed", zap.String("cache", cacheName), zap.Error(err))
		}
	}
	return value, core.SourceArchive, true
}

// noteFailure logs a live failure and records throttle signals.
func (o *Orchestrator) noteFailure(ctx context.Context, operation, subject string, err error) {
	var signal *core.RateLimitSignal
	if errors.As(err, &signal) {
		o.warn("Upstream rate limited, serving fallback",
			zap.String("operation", operation),
			zap.String("subject", subject),
			zap.String("upstream", signal.Upstream),
			zap.Int("remaining", signal.Remaining),
			zap.Time("reset_at", signal.ResetAt()))
		o.recordSignal(ctx, signal)
		return
	}

	o.warn("Upstream fetch failed, serving fallback",
		zap.String("operation", operation),
		zap.String("subject", subject),
		zap.Error(err))
}

func (o *Orchestrator) recordSignal(ctx context.Context, signal *core.RateLimitSignal) {
	upstream := strings.ToLower(strings.TrimSpace(signal.Upstream))
	if upstream == "" {
		return
	}
	if o.Cache != nil {
		if err := o.Cache.Put(cache.RateLimit, upstream, *signal); err != nil {
			o.warn("Rate limit cache write failed", zap.Error(err))
		}
	}
	if o.Archive != nil {
		if err := o.Archive.RecordQuota(ctx, signal.Observation(o.now())); err != nil {
			o.warn("Quota observation write failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) served(operation string, source core.Source, started time.Time) {
	metrics.RecordFallback(operation, string(source))
	metrics.RecordFetch(operation, string(source), time.Since(started))
}

func (o *Orchestrator) degradedInsights(identity string, cause error) *core.InsightsSnapshot {
	now := o.now()
	reason := "no live or stored data"
	if cause != nil {
		reason = cause.Error()
	}

	fields := make(map[string]core.FieldSource, len(core.InsightFields))
	for _, name := range core.InsightFields {
		fields[name] = core.FieldSource{State: core.FieldDefaulted, Error: reason}
	}

	o.warn("Serving degraded snapshot",
		zap.String("identity", identity),
		zap.String("reason", reason))

	return &core.InsightsSnapshot{
		Username:   identity,
		ProfileURL: profileURLPrefix + identity,
		FetchedAt:  now,
		Provenance: core.Provenance{
			CheckID:     uuid.New().String(),
			RequestedAt: now,
			ResolvedAt:  now,
			Source:      core.SourceDegraded,
			Fields:      fields,
		},
	}
}

func (o *Orchestrator) credentialKey(credential string) (string, error) {
	o.secretOnce.Do(func() {
		if len(o.KeySecret) == 0 {
			o.KeySecret, o.secretErr = cache.KeySecret("")
		}
	})
	if o.secretErr != nil {
		return "", o.secretErr
	}
	return cache.CredentialKey(o.KeySecret, credential)
}

func (o *Orchestrator) warn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}
