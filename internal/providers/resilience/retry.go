package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the +/- fraction applied to each delay.
	Jitter float64
	// IsRetryable decides whether an error is worth another attempt. Nil retries everything.
	IsRetryable func(error) bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.25,
	}
}

// Retryer runs a function with exponential backoff.
type Retryer struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetryer(config RetryConfig) *Retryer {
	if config.Multiplier <= 0 {
		config.Multiplier = 2
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Retryer{config: config, sleep: sleepContext}
}

// Do calls fn until it succeeds, returns a non-retryable error, ctx ends or retries run out.
// The last error is returned.
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.Delay(attempt)); err != nil {
				return lastErr
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if r.config.IsRetryable != nil && !r.config.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// Delay returns the backoff before the given attempt (1-based).
func (r *Retryer) Delay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter > 0 {
		delay += delay * r.config.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
