package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider implements Provider backed by a Redis-compatible server.
type RedisProvider struct {
	client *redis.Client
}

// RedisConfig holds connection parameters for the cache server.
type RedisConfig struct {
	URL         string
	Password    string
	DialTimeout time.Duration
}

// NewRedisProvider creates a Provider from the supplied configuration. It
// pings the target to fail fast when connectivity or credentials are wrong.
func NewRedisProvider(cfg RedisConfig) (*RedisProvider, error) {
	if cfg.URL == "" {
		return nil, errors.New("cache url is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}

	return &RedisProvider{client: client}, nil
}

// NewRedisProviderFromClient wraps an existing client; used by tests.
func NewRedisProviderFromClient(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *RedisProvider) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores bytes with the provided TTL.
func (p *RedisProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.client.Set(ctx, key, value, ttl).Err()
}

// SetNX stores the value only if the key does not exist.
func (p *RedisProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.client.SetNX(ctx, key, value, ttl).Result()
}

// Del removes a key from the cache.
func (p *RedisProvider) Del(ctx context.Context, key string) error {
	return p.client.Del(ctx, key).Err()
}

// Close closes the underlying client.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}
