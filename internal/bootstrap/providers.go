package bootstrap

import (
	"context"

	"ai-hotline/internal/clients/anthropic"
	"ai-hotline/internal/clients/elevenlabs"
	"ai-hotline/internal/clients/googleai"
	"ai-hotline/internal/clients/mistral"
	"ai-hotline/internal/clients/munsit"
	"ai-hotline/internal/clients/openai"
	"ai-hotline/internal/config"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/providers/resilience"
)

// newRegistry builds the provider registry and registers every vendor that has credentials.
// Vendors without an API key are skipped, so the chains only ever contain usable providers.
func newRegistry(ctx context.Context, cfg config.ProvidersConfig, metrics *observability.Metrics, logger *observability.Logger) *providers.Registry {
	registry := providers.NewRegistry(providers.RegistryConfig{
		Timeout: cfg.Timeout,
		Retry: resilience.RetryConfig{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     10 * cfg.RetryDelay,
			Multiplier:   2,
			Jitter:       0.2,
		},
		STTOrder:       cfg.STTOrder,
		LLMOrder:       cfg.LLMOrder,
		TTSOrder:       cfg.TTSOrder,
		EmbeddingOrder: cfg.EmbeddingOrder,
	}, metrics, logger)

	skip := func(name string, err error) {
		logger.WarnWithError(observability.WithFields(ctx, observability.Field{Key: "provider", Value: name}),
			"provider not registered", err)
	}

	if cfg.OpenAI.APIKey != "" {
		c, err := openai.NewClient(openai.Config{
			APIKey:    cfg.OpenAI.APIKey,
			BaseURL:   cfg.OpenAI.BaseURL,
			ChatModel: cfg.OpenAI.Model,
			Voice:     cfg.OpenAI.Voice,
		}, logger)
		if err != nil {
			skip(openai.ProviderName, err)
		} else {
			registry.RegisterSTT(c)
			registry.RegisterLLM(c)
			registry.RegisterTTS(c)
			registry.RegisterEmbedder(c)
		}
	}

	if cfg.Anthropic.APIKey != "" {
		c, err := anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Model:   cfg.Anthropic.Model,
		}, logger)
		if err != nil {
			skip(anthropic.ProviderName, err)
		} else {
			registry.RegisterLLM(c)
		}
	}

	if cfg.Mistral.APIKey != "" {
		c, err := mistral.NewClient(mistral.Config{
			APIKey:  cfg.Mistral.APIKey,
			BaseURL: cfg.Mistral.BaseURL,
			Model:   cfg.Mistral.Model,
		}, logger)
		if err != nil {
			skip(mistral.ProviderName, err)
		} else {
			registry.RegisterLLM(c)
			registry.RegisterEmbedder(c)
		}
	}

	if cfg.Gemini.APIKey != "" {
		c, err := googleai.NewClient(googleai.Config{
			APIKey:   cfg.Gemini.APIKey,
			Model:    cfg.Gemini.Model,
			Endpoint: cfg.Gemini.BaseURL,
		}, logger)
		if err != nil {
			skip(googleai.ProviderName, err)
		} else {
			registry.RegisterLLM(c)
			registry.RegisterEmbedder(c)
		}
	}

	if cfg.Munsit.APIKey != "" {
		c, err := munsit.NewClient(munsit.Config{
			APIKey:  cfg.Munsit.APIKey,
			BaseURL: cfg.Munsit.BaseURL,
			Model:   cfg.Munsit.Model,
		}, logger)
		if err != nil {
			skip(munsit.ProviderName, err)
		} else {
			registry.RegisterSTT(c)
		}
	}

	if cfg.ElevenLabs.APIKey != "" {
		c, err := elevenlabs.NewClient(elevenlabs.Config{
			APIKey:  cfg.ElevenLabs.APIKey,
			BaseURL: cfg.ElevenLabs.BaseURL,
			Model:   cfg.ElevenLabs.Model,
			Voice:   cfg.ElevenLabs.Voice,
		}, logger)
		if err != nil {
			skip(elevenlabs.ProviderName, err)
		} else {
			registry.RegisterTTS(c)
		}
	}

	for _, kind := range []providers.Kind{providers.KindSTT, providers.KindLLM, providers.KindTTS, providers.KindEmbedding} {
		names := registry.Names(kind)
		if len(names) == 0 {
			logger.Warn(ctx, "no providers registered for "+string(kind))
			continue
		}
		logger.Info(ctx, "providers registered",
			observability.Field{Key: "kind", Value: string(kind)},
			observability.Field{Key: "providers", Value: names},
		)
	}
	return registry
}
