package processor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusDisabled  = "disabled"

	checkBudget = 5 * time.Second
	checkKeyTTL = 10 * time.Second
)

type Database interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
}

type Cache interface {
	IsEnabled() bool
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

type ProviderRegistry interface {
	Status() []providers.ProviderStatus
	Pingers() map[string]providers.Pinger
}

type Check struct {
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type Report struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

type HealthProcessor struct {
	db        Database
	cache     Cache
	providers ProviderRegistry
	version   string
	startedAt time.Time
	logger    *observability.Logger
}

// New builds the processor. Any dependency may be nil; its check then reports disabled.
func New(db Database, cache Cache, registry ProviderRegistry, version string, logger *observability.Logger) *HealthProcessor {
	return &HealthProcessor{
		db:        db,
		cache:     cache,
		providers: registry,
		version:   version,
		startedAt: time.Now(),
		logger:    logger,
	}
}

func (p *HealthProcessor) Version() string { return p.version }

// Ready reports whether the database answers.
func (p *HealthProcessor) Ready(ctx context.Context) bool {
	if p.db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, checkBudget)
	defer cancel()
	return p.db.Ping(ctx) == nil
}

// Detailed runs every check concurrently within a shared budget.
func (p *HealthProcessor) Detailed(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkBudget)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = map[string]Check{}
	)
	record := func(name string, fn func(context.Context) Check) func() error {
		return func() error {
			start := time.Now()
			c := fn(ctx)
			c.LatencyMs = time.Since(start).Milliseconds()
			mu.Lock()
			checks[name] = c
			mu.Unlock()
			return nil
		}
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(record("database", p.checkDatabase))
	g.Go(record("redis", p.checkRedis))
	g.Go(record("providers", p.checkProviders))
	g.Go(record("system", p.checkSystem))
	_ = g.Wait()

	status := StatusHealthy
	for name, c := range checks {
		if c.Status != StatusUnhealthy {
			continue
		}
		if name == "database" {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}
	if status != StatusHealthy {
		p.logger.Warn(ctx, "health check not healthy", observability.Field{Key: "status", Value: status})
	}

	return Report{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Service:   "ai-hotline-backend",
		Version:   p.version,
		Checks:    checks,
	}
}

func (p *HealthProcessor) checkDatabase(ctx context.Context) Check {
	if p.db == nil {
		return Check{Status: StatusDisabled}
	}
	if err := p.db.Ping(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Error: err.Error()}
	}
	c := Check{Status: StatusHealthy}
	if version, err := p.db.Version(ctx); err == nil {
		c.Details = map[string]interface{}{"version": version}
	}
	return c
}

func (p *HealthProcessor) checkRedis(ctx context.Context) Check {
	if p.cache == nil || !p.cache.IsEnabled() {
		return Check{Status: StatusDisabled}
	}
	if err := p.cache.Ping(ctx); err != nil {
		return Check{Status: StatusUnhealthy, Error: err.Error()}
	}

	key := "health_check:" + uuid.NewString()
	want := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := p.cache.Set(ctx, key, want, checkKeyTTL); err != nil {
		return Check{Status: StatusUnhealthy, Error: fmt.Sprintf("set check key: %v", err)}
	}
	got, err := p.cache.Get(ctx, key)
	_ = p.cache.Del(ctx, key)
	if err != nil {
		return Check{Status: StatusUnhealthy, Error: fmt.Sprintf("get check key: %v", err)}
	}
	if string(got) != string(want) {
		return Check{Status: StatusDegraded, Error: "check value mismatch"}
	}
	return Check{Status: StatusHealthy}
}

func (p *HealthProcessor) checkProviders(ctx context.Context) Check {
	if p.providers == nil {
		return Check{Status: StatusDisabled}
	}
	statuses := p.providers.Status()
	if len(statuses) == 0 {
		return Check{Status: StatusDisabled}
	}

	details := map[string]interface{}{"breakers": statuses}
	open := 0
	for _, s := range statuses {
		if s.State == "open" {
			open++
		}
	}

	pingers := p.providers.Pingers()
	results := make(map[string]string, len(pingers))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for name, pinger := range pingers {
		name, pinger := name, pinger
		g.Go(func() error {
			result := "ok"
			if err := pinger.Ping(gctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	failed := 0
	for _, r := range results {
		if r != "ok" {
			failed++
		}
	}
	if len(results) > 0 {
		details["pings"] = results
	}

	status := StatusHealthy
	switch {
	case open == len(statuses):
		status = StatusUnhealthy
	case open > 0 || failed > 0:
		status = StatusDegraded
	}
	return Check{Status: status, Details: details}
}

func (p *HealthProcessor) checkSystem(context.Context) Check {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return Check{
		Status: StatusHealthy,
		Details: map[string]interface{}{
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
			"uptime_seconds": int64(time.Since(p.startedAt).Seconds()),
			"memory_alloc":   mem.Alloc,
			"memory_sys":     mem.Sys,
			"num_gc":         mem.NumGC,
		},
	}
}
