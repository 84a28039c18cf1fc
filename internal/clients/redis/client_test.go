package redis

import (
	"context"
	"testing"
	"time"

	"ai-hotline/internal/config"
	"ai-hotline/internal/observability"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return NewFromClient(rc, observability.NewNopLogger()), mr
}

func TestClient_Disabled(t *testing.T) {
	c, err := NewClient(context.Background(), config.RedisConfig{Enabled: false}, observability.NewNopLogger())
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.False(t, c.IsEnabled())

	_, err = c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotInitialized)
	assert.NoError(t, c.Close())
}

func TestClient_Unreachable(t *testing.T) {
	cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1, SocketTimeout: 200 * time.Millisecond}
	c, err := NewClient(context.Background(), cfg, observability.NewNopLogger())
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestClient_ConnectsViaURL(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Enabled: true, URL: "redis://" + mr.Addr() + "/0", PoolSize: 2}
	c, err := NewClient(context.Background(), cfg, observability.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.IsEnabled())
	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_GetSet(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := c.SetNX(ctx, "k", []byte("other"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestClient_IncrWithExpire(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := c.IncrWithExpire(ctx, "counter", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, time.Minute, mr.TTL("counter"))

	require.NoError(t, c.Del(ctx, "counter"))
	assert.False(t, mr.Exists("counter"))
}
