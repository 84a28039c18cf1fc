package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")
var errBadInput = errors.New("bad input")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(transitions *[]string) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := NewBreaker("test", BreakerConfig{
		Threshold:        3,
		ResetTimeout:     time.Minute,
		HalfOpenMaxCalls: 1,
		IsClientError:    func(err error) bool { return errors.Is(err, errBadInput) },
		OnStateChange: func(from, to State) {
			if transitions != nil {
				*transitions = append(*transitions, from.String()+"->"+to.String())
			}
		},
	})
	b.now = clock.now
	return b, clock
}

func fail(ctx context.Context) error    { return errBoom }
func succeed(ctx context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []string
	b, _ := newTestBreaker(&transitions)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(ctx context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreaker_ClientErrorsDoNotCount(t *testing.T) {
	b, _ := newTestBreaker(nil)
	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(ctx context.Context) error { return errBadInput })
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(nil)
	ctx := context.Background()
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpen(t *testing.T) {
	tests := []struct {
		name      string
		trial     func(ctx context.Context) error
		wantState State
	}{
		{"success closes", succeed, StateClosed},
		{"failure reopens", fail, StateOpen},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newTestBreaker(nil)
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_ = b.Execute(ctx, fail)
			}
			clock.advance(61 * time.Second)
			assert.Equal(t, StateHalfOpen, b.State())

			_ = b.Execute(ctx, tt.trial)
			assert.Equal(t, tt.wantState, b.State())
		})
	}
}

func TestBreaker_HalfOpenLimitsCalls(t *testing.T) {
	b, clock := newTestBreaker(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, fail)
	}
	clock.advance(2 * time.Minute)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(ctx context.Context) error { <-release; return nil })
	}()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.halfOpenCallCount == 1
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, b.Execute(ctx, succeed), ErrTooManyCallsInHalfOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(nil)
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestRetryer_Do(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		retryable func(error) bool
		wantCalls int
		wantErr   bool
	}{
		{"succeeds first time", 0, nil, 1, false},
		{"succeeds after retries", 2, nil, 3, false},
		{"exhausts retries", 10, nil, 4, true},
		{"non-retryable stops", 10, func(error) bool { return false }, 1, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetryer(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, IsRetryable: tt.retryable})
			r.sleep = noSleep
			calls := 0
			err := r.Do(context.Background(), func(ctx context.Context) error {
				calls++
				if calls <= tt.failures {
					return errBoom
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestRetryer_StopsOnCancel(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxRetries: 5, InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(ctx context.Context) error { calls++; return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestRetryer_DelayBounds(t *testing.T) {
	r := NewRetryer(RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: 0.25})
	for i := 0; i < 50; i++ {
		d := r.Delay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
	assert.LessOrEqual(t, r.Delay(10), 1250*time.Millisecond)
}
