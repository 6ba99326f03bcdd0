package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (*RedisProvider, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	p := NewRedisProviderFromClient(client)
	t.Cleanup(func() { _ = p.Close() })
	return p, mr
}

func TestRedisProviderGetSet(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "classify:inc-1", []byte(`{"class":"transient"}`), time.Minute))

	data, err := p.Get(ctx, "classify:inc-1")
	require.NoError(t, err)
	assert.Equal(t, `{"class":"transient"}`, string(data))
}

func TestRedisProviderMiss(t *testing.T) {
	p, _ := newTestProvider(t)

	_, err := p.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisProviderTTL(t *testing.T) {
	p, mr := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "k", []byte("v"), time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisProviderSetNX(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	ok, err := p.SetNX(ctx, "lock:inc-1", []byte("owner-a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.SetNX(ctx, "lock:inc-1", []byte("owner-b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := p.Get(ctx, "lock:inc-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", string(data))
}

func TestRedisProviderDel(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, p.Del(ctx, "k"))

	_, err := p.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNewRedisProviderBadURL(t *testing.T) {
	_, err := NewRedisProvider(RedisConfig{URL: "not a url"})
	assert.Error(t, err)

	_, err = NewRedisProvider(RedisConfig{})
	assert.Error(t, err)
}
