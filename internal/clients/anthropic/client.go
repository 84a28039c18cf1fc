// Package anthropic calls the Messages API for chat completions.
package anthropic

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
	ProviderName = "anthropic"

	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModel     = "claude-3-5-haiku-latest"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 512
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *observability.Logger
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

func (c *Client) Name() string { return ProviderName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) Generate(ctx context.Context, req providers.LLMRequest) (providers.LLMResult, error) {
	if len(req.Messages) == 0 {
		return providers.LLMResult{}, fmt.Errorf("%w: no messages", providers.ErrInvalidInput)
	}

	body := messagesRequest{
		Model:     c.cfg.Model,
		System:    req.System,
		Messages:  mergeTurns(req.Messages),
		MaxTokens: req.MaxTokens,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return providers.LLMResult{}, fmt.Errorf("failed to marshal messages request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return providers.LLMResult{}, fmt.Errorf("failed to create messages request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return providers.LLMResult{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse(resp, ProviderName); err != nil {
		return providers.LLMResult{}, err
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return providers.LLMResult{}, fmt.Errorf("failed to decode messages response: %w", err)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return providers.LLMResult{}, fmt.Errorf("anthropic: empty response")
	}

	return providers.LLMResult{
		Text:     strings.TrimSpace(text.String()),
		Provider: ProviderName,
		Usage:    providers.Usage{PromptTokens: out.Usage.InputTokens, CompletionTokens: out.Usage.OutputTokens},
	}, nil
}

// mergeTurns folds consecutive messages from the same role and drops a leading assistant turn,
// since the API requires alternating roles starting with the user.
func mergeTurns(messages []providers.Message) []message {
	out := make([]message, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		if len(out) == 0 && role == "assistant" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + m.Content
			continue
		}
		out = append(out, message{Role: role, Content: m.Content})
	}
	return out
}
