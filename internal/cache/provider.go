package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent from the cache.
var ErrCacheMiss = errors.New("cache miss")

// Provider abstracts the optional cache used for classification results and
// cross-replica guards. Implementations must be safe for concurrent use.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores the value only if the key does not exist, reporting
	// whether the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// NoopProvider satisfies Provider when caching is disabled.
type NoopProvider struct{}

func (NoopProvider) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (NoopProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (NoopProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return true, nil
}

func (NoopProvider) Del(ctx context.Context, key string) error { return nil }

func (NoopProvider) Close() error { return nil }
