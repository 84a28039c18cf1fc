package processor

import (
	"context"
	"errors"
	"testing"

	redisclient "ai-hotline/internal/clients/redis"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	err error
}

func (f fakeDB) Ping(context.Context) error { return f.err }

func (f fakeDB) Version(context.Context) (string, error) { return "PostgreSQL 16.2", f.err }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeRegistry struct {
	statuses []providers.ProviderStatus
	pingers  map[string]providers.Pinger
}

func (f fakeRegistry) Status() []providers.ProviderStatus   { return f.statuses }
func (f fakeRegistry) Pingers() map[string]providers.Pinger { return f.pingers }

func newCache(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return redisclient.NewFromClient(rc, observability.NewNopLogger())
}

func healthyRegistry() fakeRegistry {
	return fakeRegistry{
		statuses: []providers.ProviderStatus{
			{Name: "openai", Kind: providers.KindLLM, State: "closed"},
			{Name: "gemini", Kind: providers.KindLLM, State: "closed"},
		},
		pingers: map[string]providers.Pinger{"openai": fakePinger{}},
	}
}

func TestDetailed_AllHealthy(t *testing.T) {
	p := New(fakeDB{}, newCache(t), healthyRegistry(), "1.2.3", observability.NewNopLogger())

	report := p.Detailed(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	require.Len(t, report.Checks, 4)
	assert.Equal(t, "PostgreSQL 16.2", report.Checks["database"].Details["version"])
	assert.Equal(t, StatusHealthy, report.Checks["redis"].Status)
	assert.Equal(t, StatusHealthy, report.Checks["providers"].Status)
	assert.Contains(t, report.Checks["system"].Details, "goroutines")
}

func TestDetailed_DatabaseDownIsUnhealthy(t *testing.T) {
	p := New(fakeDB{err: errors.New("connection refused")}, nil, healthyRegistry(), "1", observability.NewNopLogger())

	report := p.Detailed(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["database"].Status)
	assert.Equal(t, StatusDisabled, report.Checks["redis"].Status)
	assert.False(t, p.Ready(context.Background()))
}

func TestDetailed_ProviderIssuesDegrade(t *testing.T) {
	reg := healthyRegistry()
	reg.statuses[0].State = "open"
	reg.pingers["elevenlabs"] = fakePinger{err: errors.New("401")}
	p := New(fakeDB{}, nil, reg, "1", observability.NewNopLogger())

	report := p.Detailed(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, StatusDegraded, report.Checks["providers"].Status)
	pings := report.Checks["providers"].Details["pings"].(map[string]string)
	assert.Equal(t, "ok", pings["openai"])
	assert.Equal(t, "401", pings["elevenlabs"])
}

func TestDetailed_AllBreakersOpen(t *testing.T) {
	reg := healthyRegistry()
	for i := range reg.statuses {
		reg.statuses[i].State = "open"
	}
	p := New(fakeDB{}, nil, reg, "1", observability.NewNopLogger())

	report := p.Detailed(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Checks["providers"].Status)
	assert.Equal(t, StatusDegraded, report.Status)
}

func TestDetailed_NoDependencies(t *testing.T) {
	p := New(nil, nil, nil, "1", observability.NewNopLogger())

	report := p.Detailed(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, StatusDisabled, report.Checks["database"].Status)
	assert.False(t, p.Ready(context.Background()))
}
