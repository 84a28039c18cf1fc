// Package googleai adapts Gemini chat and embedding models to the provider interfaces.
package googleai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	ProviderName = "gemini"

	defaultModel          = "gemini-1.5-flash"
	defaultEmbeddingModel = "text-embedding-004"
	embeddingDimensions   = 768
)

type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	// Endpoint overrides the API host, mostly for proxies.
	Endpoint string
}

type Client struct {
	cfg    Config
	logger *observability.Logger
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	return &Client{cfg: cfg, logger: logger}, nil
}

func (g *Client) Name() string { return ProviderName }

func (g *Client) newSDKClient(ctx context.Context) (*genai.Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(g.cfg.APIKey)}
	if g.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.Endpoint))
	}
	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return c, nil
}

// prepareChat configures the model and returns the history plus the final user prompt.
func (g *Client) prepareChat(c *genai.Client, req providers.LLMRequest) (*genai.ChatSession, genai.Part, error) {
	history, prompt, err := buildHistory(req.Messages)
	if err != nil {
		return nil, nil, err
	}

	model := c.GenerativeModel(g.cfg.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}

	chat := model.StartChat()
	chat.History = history
	return chat, prompt, nil
}

func (g *Client) Generate(ctx context.Context, req providers.LLMRequest) (providers.LLMResult, error) {
	c, err := g.newSDKClient(ctx)
	if err != nil {
		return providers.LLMResult{}, err
	}
	defer c.Close()

	chat, prompt, err := g.prepareChat(c, req)
	if err != nil {
		return providers.LLMResult{}, err
	}

	resp, err := chat.SendMessage(ctx, prompt)
	if err != nil {
		return providers.LLMResult{}, classify(err)
	}
	text := responseText(resp)
	if text == "" {
		return providers.LLMResult{}, fmt.Errorf("gemini: empty response")
	}

	result := providers.LLMResult{Text: strings.TrimSpace(text), Provider: ProviderName}
	if resp.UsageMetadata != nil {
		result.Usage = providers.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

func (g *Client) GenerateStream(ctx context.Context, req providers.LLMRequest) (<-chan providers.StreamChunk, error) {
	c, err := g.newSDKClient(ctx)
	if err != nil {
		return nil, err
	}
	chat, prompt, err := g.prepareChat(c, req)
	if err != nil {
		c.Close()
		return nil, err
	}

	out := make(chan providers.StreamChunk, 16)
	go func() {
		defer close(out)
		defer c.Close()

		iter := chat.SendMessageStream(ctx, prompt)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				providers.SendChunk(ctx, out, providers.StreamChunk{Done: true})
				return
			}
			if err != nil {
				g.logger.Error(ctx, "gemini stream failed", err)
				providers.SendChunk(ctx, out, providers.StreamChunk{Err: classify(err)})
				return
			}
			if text := responseText(resp); text != "" {
				if !providers.SendChunk(ctx, out, providers.StreamChunk{Text: text}) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (g *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	c, err := g.newSDKClient(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	em := c.EmbeddingModel(g.cfg.EmbeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = toFloat64(e.Values)
	}
	return vectors, nil
}

func (g *Client) Dimensions() int { return embeddingDimensions }

// buildHistory splits messages into prior turns and the prompt, which must be the last user message.
func buildHistory(messages []providers.Message) ([]*genai.Content, genai.Part, error) {
	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("%w: no messages", providers.ErrInvalidInput)
	}
	last := messages[len(messages)-1]
	if last.Role == "assistant" {
		return nil, nil, fmt.Errorf("%w: last message must come from the user", providers.ErrInvalidInput)
	}

	history := make([]*genai.Content, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return history, genai.Text(last.Content), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func classify(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &providers.StatusError{Provider: ProviderName, StatusCode: gErr.Code, Message: gErr.Message}
	}
	return err
}
