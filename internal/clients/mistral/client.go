// Package mistral calls the Mistral chat completion and embedding endpoints.
package mistral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
)

const (
	ProviderName = "mistral"

	defaultBaseURL        = "https://api.mistral.ai/v1"
	defaultModel          = "mistral-small-latest"
	defaultEmbeddingModel = "mistral-embed"
	embeddingDimensions   = 1024
)

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	HTTPClient     *http.Client
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *observability.Logger
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Mistral API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

func (c *Client) Name() string { return ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Generate(ctx context.Context, req providers.LLMRequest) (providers.LLMResult, error) {
	if len(req.Messages) == 0 {
		return providers.LLMResult{}, fmt.Errorf("%w: no messages", providers.ErrInvalidInput)
	}

	body := chatRequest{Model: c.cfg.Model, MaxTokens: req.MaxTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		body.Messages = append(body.Messages, chatMessage{Role: role, Content: m.Content})
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	var out chatResponse
	if err := c.post(ctx, "/chat/completions", body, &out); err != nil {
		return providers.LLMResult{}, err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return providers.LLMResult{}, fmt.Errorf("mistral: empty completion")
	}

	return providers.LLMResult{
		Text:     strings.TrimSpace(out.Choices[0].Message.Content),
		Provider: ProviderName,
		Usage:    providers.Usage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens},
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{Model: c.cfg.EmbeddingModel, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("mistral: got %d embeddings for %d inputs", len(out.Data), len(texts))
	}
	vectors := make([][]float64, len(texts))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("mistral: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) Dimensions() int { return embeddingDimensions }

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mistral request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse(resp, ProviderName); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mistral response: %w", err)
	}
	return nil
}
