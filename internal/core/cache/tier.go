package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tierKeyPrefix = "pulsegate"
	tierTimeout   = 500 * time.Millisecond
)

// Tier is a shared second-level cache behind the in-process caches.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// TierKey builds the namespaced tier key for a cache entry.
func TierKey(name, key string) string {
	return fmt.Sprintf("%s:%s:%s", tierKeyPrefix, name, key)
}

// RedisConfig configures the Redis tier.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RedisTier stores JSON cache entries in Redis.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(ctx context.Context, cfg RedisConfig) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Addr),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis tier: %w", err)
	}

	return &RedisTier{client: client}, nil
}

// NewRedisTierWithClient wraps an existing client.
func NewRedisTierWithClient(client *redis.Client) *RedisTier {
	return &RedisTier{client: client}
}

// Get returns the stored payload. A missing key is not an error.
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set stores payload with the given TTL.
func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, key).Err()
}

// Ping checks connectivity.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
