package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/observability"
)

type chain struct {
	kind     Kind
	members  []*entry
	registry *Registry
}

func (r *Registry) newChain(kind Kind, preferred []string) chain {
	return chain{kind: kind, members: r.ordered(kind, preferred), registry: r}
}

// Names returns the providers in the order they will be tried.
func (c chain) Names() []string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.name
	}
	return names
}

func (c chain) Len() int { return len(c.members) }

func failureKind(kind Kind) *apperr.Kind {
	switch kind {
	case KindSTT:
		return apperr.STT
	case KindLLM:
		return apperr.LLM
	case KindTTS:
		return apperr.TTS
	}
	return apperr.ExternalService
}

// execute tries each member in order through its breaker and the shared retryer.
func execute[T any](ctx context.Context, c chain, call func(ctx context.Context, e *entry) (T, error)) (T, string, error) {
	var zero T
	if len(c.members) == 0 {
		return zero, "", apperr.Wrap(failureKind(c.kind), "NO_PROVIDERS", fmt.Sprintf("no %s providers configured", c.kind), ErrNoProviders)
	}

	r := c.registry
	errs := make([]error, 0, len(c.members))
	for i, m := range c.members {
		m := m
		if i > 0 {
			r.metrics.IncFallback(string(c.kind))
		}
		start := time.Now()
		var result T
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			return r.retryer.Do(ctx, func(ctx context.Context) error {
				attemptCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
				defer cancel()
				var callErr error
				result, callErr = call(attemptCtx, m)
				return callErr
			})
		})
		r.metrics.ObserveProvider(string(c.kind), m.name, err, time.Since(start))
		if err == nil {
			return result, m.name, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		r.logger.Warn(ctx, "provider failed, trying next",
			observability.Field{Key: "kind", Value: string(c.kind)},
			observability.Field{Key: "provider", Value: m.name},
			observability.Field{Key: "error", Value: err.Error()},
		)
		if ctx.Err() != nil {
			break
		}
	}

	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	cause := errors.Join(append([]error{ErrAllProvidersFailed}, errs...)...)
	return zero, "", apperr.Wrap(failureKind(c.kind), "ALL_PROVIDERS_FAILED",
		fmt.Sprintf("all %s providers failed: %s", c.kind, strings.Join(msgs, "; ")), cause)
}

type STTChain struct{ chain }

func (c *STTChain) Transcribe(ctx context.Context, req STTRequest) (STTResult, error) {
	res, name, err := execute(ctx, c.chain, func(ctx context.Context, e *entry) (STTResult, error) {
		return e.provider.(STTProvider).Transcribe(ctx, req)
	})
	if err == nil && res.Provider == "" {
		res.Provider = name
	}
	return res, err
}

type LLMChain struct{ chain }

func (c *LLMChain) Generate(ctx context.Context, req LLMRequest) (LLMResult, error) {
	res, name, err := execute(ctx, c.chain, func(ctx context.Context, e *entry) (LLMResult, error) {
		return e.provider.(LLMProvider).Generate(ctx, req)
	})
	if err == nil && res.Provider == "" {
		res.Provider = name
	}
	return res, err
}

// GenerateStream streams from the first provider that implements LLMStreamer and accepts the
// request. Providers without streaming are used through Generate and emit a single chunk.
func (c *LLMChain) GenerateStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	streamCtx := ctx
	ch, _, err := execute(ctx, c.chain, func(ctx context.Context, e *entry) (<-chan StreamChunk, error) {
		if s, ok := e.provider.(LLMStreamer); ok {
			// The attempt ctx ends when execute returns, so the stream is bound to the caller's ctx.
			return s.GenerateStream(streamCtx, req)
		}
		res, err := e.provider.(LLMProvider).Generate(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make(chan StreamChunk, 2)
		out <- StreamChunk{Text: res.Text}
		out <- StreamChunk{Done: true}
		close(out)
		return out, nil
	})
	return ch, err
}

type TTSChain struct{ chain }

func (c *TTSChain) Synthesize(ctx context.Context, req TTSRequest) (TTSResult, error) {
	res, name, err := execute(ctx, c.chain, func(ctx context.Context, e *entry) (TTSResult, error) {
		return e.provider.(TTSProvider).Synthesize(ctx, req)
	})
	if err == nil && res.Provider == "" {
		res.Provider = name
	}
	return res, err
}

type EmbeddingChain struct{ chain }

// Embed returns one vector per text. The returned name identifies the provider that answered,
// which keys embedding caches.
func (c *EmbeddingChain) Embed(ctx context.Context, texts []string) ([][]float64, string, error) {
	if len(texts) == 0 {
		return nil, "", nil
	}
	return execute(ctx, c.chain, func(ctx context.Context, e *entry) ([][]float64, error) {
		vecs, err := e.provider.(Embedder).Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%s returned %d embeddings for %d texts", e.name, len(vecs), len(texts))
		}
		return vecs, nil
	})
}
