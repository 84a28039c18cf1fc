// Package resilience provides the circuit breaker and retry policy wrapped around every provider call.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)

type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// ResetTimeout is how long the breaker stays open before allowing trial calls.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls caps concurrent trial calls while half-open.
	HalfOpenMaxCalls int
	// IsClientError marks errors caused by the request itself. They never count as failures.
	IsClientError func(error) bool
	OnStateChange func(from, to State)
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:        5,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu                sync.Mutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

func NewBreaker(name string, config BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &Breaker{name: name, config: config, now: time.Now}
}

func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterCall(err)
	return err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) < b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.halfOpenCallCount = 1
		return nil
	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil
	}
	return nil
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || (b.config.IsClientError != nil && b.config.IsClientError(err)) || errors.Is(err, context.Canceled) {
		b.onSuccess()
		return
	}
	b.onFailure()
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenCallCount = 0
	}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.halfOpenCallCount = 0
	}
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.config.OnStateChange != nil && from != to {
		b.config.OnStateChange(from, to)
	}
}

// State reports the current state. An open breaker whose reset timeout elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailureTime) >= b.config.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failureCount = 0
	b.halfOpenCallCount = 0
}
