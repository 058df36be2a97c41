package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return mr, client
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := cache.NewRedisStore(client, "test")

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("test:k"))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	assert.False(t, mr.Exists("test:k"))
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := cache.NewRedisStore(client, "")

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 5*time.Minute))
	assert.Equal(t, 5*time.Minute, mr.TTL("stepgate:k"))

	mr.FastForward(5 * time.Minute)

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := cache.NewRedisStore(client, "test")

	mr.Close()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Ping(ctx), cache.ErrStoreUnavailable)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisClient(context.Background(), cache.RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}

func TestNewRedisClient_Connects(t *testing.T) {
	mr, _ := newTestRedis(t)

	client, err := cache.NewRedisClient(context.Background(), cache.RedisConfig{
		URL:      "redis://" + mr.Addr(),
		PoolSize: 4,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 4, client.Options().PoolSize)
}
