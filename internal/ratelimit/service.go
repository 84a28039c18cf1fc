package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-hotline/internal/clients/redis"
	"ai-hotline/internal/observability"

	"golang.org/x/time/rate"
)

const window = time.Minute

// RateLimitResult represents the result of a rate limit check
type RateLimitResult struct {
	Allowed      bool      `json:"allowed"`
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	ResetAt      time.Time `json:"reset_at"`
	RetryAfterMs int       `json:"retry_after_ms,omitempty"`
}

// Service limits requests per key per minute. Redis gives a shared fixed window across
// instances; without it each process keeps its own token buckets.
type Service struct {
	redis  *redis.Client
	logger *observability.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// NewService creates a new rate limiting service. redis may be nil.
func NewService(redis *redis.Client, logger *observability.Logger) *Service {
	return &Service{
		redis:    redis,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow records one request for key and reports whether it fits in rpm.
func (s *Service) Allow(ctx context.Context, key string, rpm int) RateLimitResult {
	if rpm <= 0 {
		return RateLimitResult{Allowed: true}
	}
	if s.redis.IsEnabled() {
		result, err := s.allowRedis(ctx, key, rpm)
		if err == nil {
			return result
		}
		s.logger.WarnWithError(ctx, "redis rate limit check failed, using in-process limiter", err)
	}
	return s.allowMemory(key, rpm)
}

func (s *Service) allowRedis(ctx context.Context, key string, rpm int) (RateLimitResult, error) {
	now := s.now()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)

	count, err := s.redis.IncrWithExpire(ctx, fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix()/60), window)
	if err != nil {
		return RateLimitResult{}, err
	}

	result := RateLimitResult{
		Allowed:   int(count) <= rpm,
		Limit:     rpm,
		Remaining: max(rpm-int(count), 0),
		ResetAt:   resetAt,
	}
	if !result.Allowed {
		result.RetryAfterMs = int(resetAt.Sub(now).Milliseconds())
	}
	return result, nil
}

func (s *Service) allowMemory(key string, rpm int) RateLimitResult {
	s.mu.Lock()
	limiter, ok := s.limiters[key]
	if !ok || limiter.Burst() != rpm {
		limiter = rate.NewLimiter(rate.Every(window/time.Duration(rpm)), rpm)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()

	now := s.now()
	allowed := limiter.AllowN(now, 1)
	remaining := int(limiter.TokensAt(now))
	result := RateLimitResult{
		Allowed:   allowed,
		Limit:     rpm,
		Remaining: max(remaining, 0),
		ResetAt:   now.Add(window / time.Duration(rpm)),
	}
	if !allowed {
		result.RetryAfterMs = int((window / time.Duration(rpm)).Milliseconds())
	}
	return result
}
