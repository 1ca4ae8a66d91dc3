// Package cache provides the named, TTL-bounded result caches used for fallback.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/metrics"
)

// Named caches.
const (
	GitHubInsights     = "github_insights"
	GitHubRepositories = "github_repositories"
	BoardAggregates    = "board_aggregates"
	RateLimit          = "rate_limit"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("cache store is closed")

// ErrUnknownCache is returned when a cache name has no policy.
var ErrUnknownCache = errors.New("unknown cache")

// Policy bounds one named cache.
type Policy struct {
	TTL             time.Duration `mapstructure:"ttl" json:"ttl"`
	MaxEntries      int           `mapstructure:"max_entries" json:"max_entries"`
	InitialCapacity int           `mapstructure:"initial_capacity" json:"initial_capacity"`
}

const (
	defaultTTL             = 5 * time.Minute
	defaultMaxEntries      = 1000
	defaultInitialCapacity = 50
)

func (p Policy) normalized() Policy {
	if p.TTL <= 0 {
		p.TTL = defaultTTL
	}
	if p.MaxEntries <= 0 {
		p.MaxEntries = defaultMaxEntries
	}
	if p.InitialCapacity <= 0 {
		p.InitialCapacity = defaultInitialCapacity
	}
	if p.InitialCapacity > p.MaxEntries {
		p.InitialCapacity = p.MaxEntries
	}
	return p
}

// DefaultPolicies returns the standard cache layout.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		GitHubInsights:     {TTL: 5 * time.Minute, MaxEntries: 1000, InitialCapacity: 50},
		GitHubRepositories: {TTL: 10 * time.Minute, MaxEntries: 1000, InitialCapacity: 50},
		BoardAggregates:    {TTL: 5 * time.Minute, MaxEntries: 1000, InitialCapacity: 50},
		RateLimit:          {TTL: time.Minute, MaxEntries: 100, InitialCapacity: 10},
	}
}

// Stats reports per-cache counters.
type Stats struct {
	Name      string        `json:"name"`
	Entries   int           `json:"entries"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Evictions uint64        `json:"evictions"`
	TTL       time.Duration `json:"ttl"`
	Capacity  int           `json:"capacity"`
}

type entry struct {
	value    any
	storedAt time.Time
}

// tierEntry is the tier payload. StoredAt carries the original write time so
// a read-through never extends an entry past its TTL.
type tierEntry struct {
	StoredAt time.Time       `json:"stored_at"`
	Value    json.RawMessage `json:"value"`
}

type namedCache struct {
	name   string
	policy Policy
	lru    *expirable.LRU[string, entry]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Store holds one independent LRU per named cache.
type Store struct {
	caches map[string]*namedCache
	tier   Tier
	clock  func() time.Time
	logger *logging.Logger
	closed atomic.Bool
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for TTL checks.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithTier attaches a shared second-level tier.
func WithTier(tier Tier) Option {
	return func(s *Store) { s.tier = tier }
}

// WithLogger sets the logger used for tier failures.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store with one cache per policy.
func New(policies map[string]Policy, opts ...Option) (*Store, error) {
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}

	s := &Store{caches: make(map[string]*namedCache, len(policies))}
	for _, opt := range opts {
		opt(s)
	}

	for name, policy := range policies {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("cache name is required")
		}
		policy = policy.normalized()
		nc := &namedCache{name: name, policy: policy}
		nc.lru = expirable.NewLRU[string, entry](policy.MaxEntries, func(string, entry) {
			nc.evictions.Add(1)
		}, policy.TTL)
		s.caches[name] = nc
	}

	return s, nil
}

// Put stores value under key, replacing any previous entry and refreshing its age.
func (s *Store) Put(name, key string, value any) error {
	if s == nil {
		return ErrClosed
	}
	if s.closed.Load() {
		return ErrClosed
	}
	nc, err := s.cache(name)
	if err != nil {
		return err
	}

	storedAt := s.now()
	nc.lru.Add(key, entry{value: value, storedAt: storedAt})

	if s.tier != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			s.warn("Cache tier encode failed", name, key, err)
			return nil
		}
		payload, err := json.Marshal(tierEntry{StoredAt: storedAt, Value: raw})
		if err != nil {
			s.warn("Cache tier encode failed", name, key, err)
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), tierTimeout)
		defer cancel()
		if err := s.tier.Set(ctx, TierKey(name, key), payload, nc.policy.TTL); err != nil {
			s.warn("Cache tier write failed", name, key, err)
		}
	}
	return nil
}

// Get returns the value stored under key when present and younger than the cache TTL.
func (s *Store) Get(name, key string) (any, bool) {
	if s == nil || s.closed.Load() {
		return nil, false
	}
	nc, err := s.cache(name)
	if err != nil {
		return nil, false
	}

	value, ok := s.local(nc, key)
	if ok {
		nc.hits.Add(1)
		metrics.RecordCacheLookup(name, true)
		return value, true
	}
	nc.misses.Add(1)
	metrics.RecordCacheLookup(name, false)
	return nil, false
}

func (s *Store) local(nc *namedCache, key string) (any, bool) {
	e, ok := nc.lru.Get(key)
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.storedAt) >= nc.policy.TTL {
		nc.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Remove deletes key from the named cache.
func (s *Store) Remove(name, key string) {
	if s == nil || s.closed.Load() {
		return
	}
	nc, err := s.cache(name)
	if err != nil {
		return
	}
	nc.lru.Remove(key)
	if s.tier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tierTimeout)
		defer cancel()
		if err := s.tier.Delete(ctx, TierKey(name, key)); err != nil {
			s.warn("Cache tier delete failed", name, key, err)
		}
	}
}

// Len returns the number of live entries in the named cache.
func (s *Store) Len(name string) int {
	if s == nil {
		return 0
	}
	nc, err := s.cache(name)
	if err != nil {
		return 0
	}
	return nc.lru.Len()
}

// Names returns the configured cache names in sorted order.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns counters for the named cache.
func (s *Store) Stats(name string) (Stats, bool) {
	if s == nil {
		return Stats{}, false
	}
	nc, err := s.cache(name)
	if err != nil {
		return Stats{}, false
	}
	return Stats{
		Name:      name,
		Entries:   nc.lru.Len(),
		Hits:      nc.hits.Load(),
		Misses:    nc.misses.Load(),
		Evictions: nc.evictions.Load(),
		TTL:       nc.policy.TTL,
		Capacity:  nc.policy.MaxEntries,
	}, true
}

// Policy returns the effective policy of the named cache.
func (s *Store) Policy(name string) (Policy, bool) {
	if s == nil {
		return Policy{}, false
	}
	nc, err := s.cache(name)
	if err != nil {
		return Policy{}, false
	}
	return nc.policy, true
}

// Close purges every cache and releases the tier. Later writes fail with ErrClosed.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, nc := range s.caches {
		nc.lru.Purge()
	}
	if s.tier != nil {
		return s.tier.Close()
	}
	return nil
}

// CheckHealth reports whether the in-process caches are usable. The shared
// tier is checked separately by CheckTier because the store keeps serving
// from memory when the tier is down.
func (s *Store) CheckHealth(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// HasTier reports whether a shared tier is configured.
func (s *Store) HasTier() bool {
	return s != nil && s.tier != nil
}

// CheckTier pings the shared tier. A store without a tier is healthy.
func (s *Store) CheckTier(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	if s.tier == nil {
		return nil
	}
	return s.tier.Ping(ctx)
}

func (s *Store) cache(name string) (*namedCache, error) {
	nc, ok := s.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCache, name)
	}
	return nc, nil
}

func (s *Store) now() time.Time {
	if s != nil && s.clock != nil {
		return s.clock()
	}
	return time.Now().UTC()
}

func (s *Store) warn(msg, name, key string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg,
		zap.String("cache", name),
		zap.String("key", key),
		zap.Error(err))
}

// GetAs returns a typed copy of the cached value. On a local miss it reads
// through the tier, when one is attached, and repopulates the local cache with
// the entry's original write time.
func GetAs[T any](s *Store, name, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}

	if raw, ok := s.Get(name, key); ok {
		value, ok := raw.(T)
		if !ok {
			return zero, false
		}
		return cloneValue(value), true
	}

	if s.tier == nil || s.closed.Load() {
		return zero, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), tierTimeout)
	defer cancel()
	payload, found, err := s.tier.Get(ctx, TierKey(name, key))
	if err != nil {
		s.warn("Cache tier read failed", name, key, err)
		return zero, false
	}
	if !found {
		return zero, false
	}

	nc, err := s.cache(name)
	if err != nil {
		return zero, false
	}

	var stored tierEntry
	if err := json.Unmarshal(payload, &stored); err != nil || stored.StoredAt.IsZero() {
		s.warn("Cache tier decode failed", name, key, err)
		return zero, false
	}
	if s.now().Sub(stored.StoredAt) >= nc.policy.TTL {
		return zero, false
	}

	var value T
	if err := json.Unmarshal(stored.Value, &value); err != nil {
		s.warn("Cache tier decode failed", name, key, err)
		return zero, false
	}

	nc.lru.Add(key, entry{value: value, storedAt: stored.StoredAt})
	return cloneValue(value), true
}

// PutValue stores a copy of value so later caller mutations do not leak into the cache.
func PutValue[T any](s *Store, name, key string, value T) error {
	return s.Put(name, key, cloneValue(value))
}

func cloneValue[T any](value T) T {
	if c, ok := any(value).(interface{ Clone() T }); ok {
		return c.Clone()
	}
	return value
}
