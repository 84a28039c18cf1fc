package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "hotline"

// Metrics groups the Prometheus collectors of the service. A nil *Metrics is valid and records
// nothing, which keeps tests and tools free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	providerRequests  *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	providerFallbacks *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec

	activeCalls   prometheus.Gauge
	stageDuration *prometheus.HistogramVec

	automationExecutions *prometheus.CounterVec
	documentsIngested    *prometheus.CounterVec
}

// NewMetrics registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_requests_total",
			Help:      "Provider calls by kind, provider and outcome",
		}, []string{"kind", "provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider call latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"kind", "provider"}),
		providerFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_fallbacks_total",
			Help:      "Number of times a chain moved on to the next provider",
		}, []string{"kind"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
		}, []string{"provider"}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_calls",
			Help:      "Calls currently in progress",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "turn_stage_duration_seconds",
			Help:      "Duration of each call turn stage",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"stage"}),
		automationExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "automation_executions_total",
			Help:      "Automation action executions by action and outcome",
		}, []string{"action", "outcome"}),
		documentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "documents_ingested_total",
			Help:      "Knowledge documents processed by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.providerRequests, m.providerDuration, m.providerFallbacks, m.breakerState,
		m.activeCalls, m.stageDuration,
		m.automationExecutions, m.documentsIngested,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, path string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(latency.Seconds())
}

func (m *Metrics) ObserveProvider(kind, provider string, err error, latency time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.providerRequests.WithLabelValues(kind, provider, outcome).Inc()
	m.providerDuration.WithLabelValues(kind, provider).Observe(latency.Seconds())
}

func (m *Metrics) IncFallback(kind string) {
	if m == nil {
		return
	}
	m.providerFallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.activeCalls.Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.activeCalls.Dec()
}

func (m *Metrics) ObserveStage(stage string, latency time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(latency.Seconds())
}

func (m *Metrics) ObserveAutomation(action string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.automationExecutions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveIngestion(outcome string) {
	if m == nil {
		return
	}
	m.documentsIngested.WithLabelValues(outcome).Inc()
}
