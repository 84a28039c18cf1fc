// Package munsit calls the Munsit Arabic dialect transcription API.
package munsit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/voice/audio"
)

const (
	ProviderName = "munsit"

	defaultBaseURL = "https://api.munsit.ai/v1"
	defaultModel   = "munsit-egyptian"
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
		return nil, fmt.Errorf("Munsit API key is required")
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

type transcribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

func (c *Client) Transcribe(ctx context.Context, req providers.STTRequest) (providers.STTResult, error) {
	if len(req.Audio) == 0 {
		return providers.STTResult{}, fmt.Errorf("%w: empty audio", providers.ErrInvalidInput)
	}

	data, filename := req.Audio, "audio.wav"
	switch req.Format {
	case "ulaw_8000":
		data = audio.WrapMuLawWAV(req.Audio, 8000)
	case "mp3", "m4a":
		filename = "audio." + req.Format
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return providers.STTResult{}, fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return providers.STTResult{}, fmt.Errorf("failed to write audio: %w", err)
	}
	_ = mw.WriteField("model", c.cfg.Model)
	if req.Language != "" {
		_ = mw.WriteField("language", req.Language)
	}
	if err := mw.Close(); err != nil {
		return providers.STTResult{}, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcribe", &body)
	if err != nil {
		return providers.STTResult{}, fmt.Errorf("failed to create transcription request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return providers.STTResult{}, fmt.Errorf("munsit request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse(resp, ProviderName); err != nil {
		return providers.STTResult{}, err
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return providers.STTResult{}, fmt.Errorf("failed to decode transcription: %w", err)
	}
	lang := out.Language
	if lang == "" {
		lang = req.Language
	}
	return providers.STTResult{
		Text:       strings.TrimSpace(out.Text),
		Confidence: out.Confidence,
		Language:   lang,
		Provider:   ProviderName,
	}, nil
}
