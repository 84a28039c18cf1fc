package providers

import (
	"sort"
	"sync"
	"time"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers/resilience"
)

type RegistryConfig struct {
	// Timeout bounds a single provider attempt.
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Breaker resilience.BreakerConfig
	// Default orders per kind; providers missing from an order are appended alphabetically.
	STTOrder       []string
	LLMOrder       []string
	TTSOrder       []string
	EmbeddingOrder []string
}

type ProviderStatus struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

type entry struct {
	name     string
	provider interface{}
	breaker  *resilience.Breaker
}

// Registry holds the registered providers per kind, each with its own circuit breaker.
type Registry struct {
	config  RegistryConfig
	metrics *observability.Metrics
	logger  *observability.Logger
	retryer *resilience.Retryer

	mu      sync.RWMutex
	entries map[Kind]map[string]*entry
}

func NewRegistry(config RegistryConfig, metrics *observability.Metrics, logger *observability.Logger) *Registry {
	retryCfg := config.Retry
	if retryCfg.IsRetryable == nil {
		retryCfg.IsRetryable = IsRetryable
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Registry{
		config:  config,
		metrics: metrics,
		logger:  logger,
		retryer: resilience.NewRetryer(retryCfg),
		entries: map[Kind]map[string]*entry{},
	}
}

func (r *Registry) register(kind Kind, name string, p interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := string(kind) + ":" + name
	bcfg := r.config.Breaker
	bcfg.IsClientError = IsClientError
	bcfg.OnStateChange = func(from, to resilience.State) {
		r.metrics.SetBreakerState(label, int(to))
	}
	if r.entries[kind] == nil {
		r.entries[kind] = map[string]*entry{}
	}
	r.entries[kind][name] = &entry{name: name, provider: p, breaker: resilience.NewBreaker(label, bcfg)}
	r.metrics.SetBreakerState(label, int(resilience.StateClosed))
}

func (r *Registry) RegisterSTT(p STTProvider)   { r.register(KindSTT, p.Name(), p) }
func (r *Registry) RegisterLLM(p LLMProvider)   { r.register(KindLLM, p.Name(), p) }
func (r *Registry) RegisterTTS(p TTSProvider)   { r.register(KindTTS, p.Name(), p) }
func (r *Registry) RegisterEmbedder(p Embedder) { r.register(KindEmbedding, p.Name(), p) }

// Has reports whether a provider of kind is registered under name.
func (r *Registry) Has(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind][name]
	return ok
}

// Names returns the registered provider names for kind in default order.
func (r *Registry) Names(kind Kind) []string {
	members := r.ordered(kind, nil)
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.name
	}
	return names
}

// ordered resolves preferred names first, then the configured default order, then any remaining
// providers alphabetically. Unknown names are skipped and duplicates removed.
func (r *Registry) ordered(kind Kind, preferred []string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := r.entries[kind]
	out := make([]*entry, 0, len(registered))
	seen := make(map[string]bool, len(registered))
	add := func(names []string) {
		for _, name := range names {
			e, ok := registered[name]
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, e)
		}
	}

	add(preferred)
	add(r.defaultOrder(kind))
	rest := make([]string, 0, len(registered))
	for name := range registered {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	add(rest)
	return out
}

func (r *Registry) defaultOrder(kind Kind) []string {
	switch kind {
	case KindSTT:
		return r.config.STTOrder
	case KindLLM:
		return r.config.LLMOrder
	case KindTTS:
		return r.config.TTSOrder
	case KindEmbedding:
		return r.config.EmbeddingOrder
	}
	return nil
}

func (r *Registry) STTChain(preferred []string) *STTChain {
	return &STTChain{chain: r.newChain(KindSTT, preferred)}
}

func (r *Registry) LLMChain(preferred []string) *LLMChain {
	return &LLMChain{chain: r.newChain(KindLLM, preferred)}
}

func (r *Registry) TTSChain(preferred []string) *TTSChain {
	return &TTSChain{chain: r.newChain(KindTTS, preferred)}
}

func (r *Registry) EmbeddingChain(preferred []string) *EmbeddingChain {
	return &EmbeddingChain{chain: r.newChain(KindEmbedding, preferred)}
}

// Status reports every provider with its breaker state.
func (r *Registry) Status() []ProviderStatus {
	var out []ProviderStatus
	for _, kind := range []Kind{KindSTT, KindLLM, KindTTS, KindEmbedding} {
		for _, e := range r.ordered(kind, nil) {
			out = append(out, ProviderStatus{
				Name:     e.name,
				Kind:     kind,
				State:    e.breaker.State().String(),
				Failures: e.breaker.Failures(),
			})
		}
	}
	return out
}

// Pingers returns every distinct registered provider that exposes a liveness check, keyed by name.
func (r *Registry) Pingers() map[string]Pinger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]Pinger{}
	for _, byName := range r.entries {
		for name, e := range byName {
			if p, ok := e.provider.(Pinger); ok {
				out[name] = p
			}
		}
	}
	return out
}
