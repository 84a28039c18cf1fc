package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	redisclient "ai-hotline/internal/clients/redis"
	"ai-hotline/internal/observability"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rc.Close() })
	logger := observability.NewNopLogger()
	return NewService(redisclient.NewFromClient(rc, logger), logger), mr
}

func TestAllow_RedisFixedWindow(t *testing.T) {
	s, mr := newRedisService(t)
	fixed := time.Date(2026, 3, 1, 10, 15, 30, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := s.Allow(ctx, "tenant:a", 3)
		require.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res := s.Allow(ctx, "tenant:a", 3)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 30000, res.RetryAfterMs)
	assert.Equal(t, fixed.Truncate(time.Minute).Add(time.Minute), res.ResetAt)

	key := fmt.Sprintf("ratelimit:tenant:a:%d", fixed.Unix()/60)
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	// other keys have their own window
	assert.True(t, s.Allow(ctx, "tenant:b", 3).Allowed)

	// next minute resets
	s.now = func() time.Time { return fixed.Add(time.Minute) }
	assert.True(t, s.Allow(ctx, "tenant:a", 3).Allowed)
}

func TestAllow_FallsBackWhenRedisFails(t *testing.T) {
	s, mr := newRedisService(t)
	mr.Close()

	ctx := context.Background()
	assert.True(t, s.Allow(ctx, "ip:1.2.3.4", 2).Allowed)
	assert.True(t, s.Allow(ctx, "ip:1.2.3.4", 2).Allowed)
	res := s.Allow(ctx, "ip:1.2.3.4", 2)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfterMs)
}

func TestAllow_MemoryWithoutRedis(t *testing.T) {
	s := NewService(nil, observability.NewNopLogger())
	fixed := time.Now()
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	assert.True(t, s.Allow(ctx, "k", 1).Allowed)
	assert.False(t, s.Allow(ctx, "k", 1).Allowed)

	s.now = func() time.Time { return fixed.Add(2 * time.Minute) }
	assert.True(t, s.Allow(ctx, "k", 1).Allowed)
}

func TestAllow_Unlimited(t *testing.T) {
	s := NewService(nil, observability.NewNopLogger())
	res := s.Allow(context.Background(), "k", 0)
	assert.True(t, res.Allowed)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewService(nil, observability.NewNopLogger())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if tenant := c.GetHeader("X-Test-Tenant"); tenant != "" {
			c.Set("Tenant-ID", tenant)
		}
		c.Next()
	})
	r.Use(s.Middleware(2))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	do := func(tenant string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if tenant != "" {
			req.Header.Set("X-Test-Tenant", tenant)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("t1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do("t1").Code)
	w = do("t1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// a different tenant and anonymous callers have separate budgets
	assert.Equal(t, http.StatusOK, do("t2").Code)
	assert.Equal(t, http.StatusOK, do("").Code)
}
