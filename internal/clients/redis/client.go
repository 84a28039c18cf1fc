package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-hotline/internal/config"
	"ai-hotline/internal/observability"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotInitialized is returned by every operation on a disabled client.
	ErrNotInitialized = errors.New("redis client not initialized")
	// ErrCacheMiss is returned by Get when the key does not exist.
	ErrCacheMiss = errors.New("cache miss")
)

// Client wraps the Redis client with observability
type Client struct {
	client *redis.Client
	logger *observability.Logger
}

// NewClient creates a new Redis client. It returns (nil, nil) when Redis is disabled and an
// error when the server cannot be reached; callers treat both as "run without cache".
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *observability.Logger) (*Client, error) {
	if !cfg.Enabled {
		logger.Info(ctx, "Redis is disabled, skipping client initialization")
		return nil, nil
	}

	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info(ctx, "successfully connected to Redis",
		observability.Field{Key: "addr", Value: opts.Addr},
		observability.Field{Key: "db", Value: opts.DB},
	)

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

func options(cfg config.RedisConfig) (*redis.Options, error) {
	timeout := cfg.SocketTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts.PoolSize = cfg.PoolSize
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
		return opts, nil
	}
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     cfg.PoolSize,
	}, nil
}

// NewFromClient wraps an existing go-redis client, e.g. one pointed at miniredis in tests.
func NewFromClient(client *redis.Client, logger *observability.Logger) *Client {
	return &Client{client: client, logger: logger}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// IsEnabled returns whether Redis is enabled
func (c *Client) IsEnabled() bool {
	return c != nil && c.client != nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if !c.IsEnabled() {
		return nil
	}
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	if !c.IsEnabled() {
		return ErrNotInitialized
	}
	return c.client.Ping(ctx).Err()
}

// Get returns the value at key or ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if !c.IsEnabled() {
		return nil, ErrNotInitialized
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return val, err
}

// Set stores value with a TTL. A zero TTL keeps the key forever.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.IsEnabled() {
		return ErrNotInitialized
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value only if key is absent and reports whether it was stored.
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if !c.IsEnabled() {
		return false, ErrNotInitialized
	}
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	if !c.IsEnabled() {
		return 0, ErrNotInitialized
	}
	return c.client.Exists(ctx, keys...).Result()
}

// Del deletes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.IsEnabled() {
		return ErrNotInitialized
	}
	return c.client.Del(ctx, keys...).Err()
}

// Expire sets an expiration on a key
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) error {
	if !c.IsEnabled() {
		return ErrNotInitialized
	}
	return c.client.Expire(ctx, key, expiration).Err()
}

// IncrWithExpire increments key and refreshes its TTL in one MULTI block.
func (c *Client) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if !c.IsEnabled() {
		return 0, ErrNotInitialized
	}
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
