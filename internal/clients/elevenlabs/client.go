// Package elevenlabs calls the ElevenLabs text-to-speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
)

const (
	ProviderName = "elevenlabs"

	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultModel   = "eleven_multilingual_v2"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// outputFormats maps our audio formats to ElevenLabs output_format values.
var outputFormats = map[string]string{
	"mp3":       "mp3_44100_128",
	"ulaw_8000": "ulaw_8000",
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Voice      string
	HTTPClient *http.Client
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *observability.Logger
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ElevenLabs API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoiceID
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

func (c *Client) Name() string { return ProviderName }

type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

func (c *Client) Synthesize(ctx context.Context, req providers.TTSRequest) (providers.TTSResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return providers.TTSResult{}, fmt.Errorf("%w: empty text", providers.ErrInvalidInput)
	}
	format := req.Format
	if format == "" {
		format = "mp3"
	}
	outputFormat, ok := outputFormats[format]
	if !ok {
		return providers.TTSResult{}, fmt.Errorf("%w: unsupported audio format %q", providers.ErrInvalidInput, format)
	}

	// Tenant voices such as "arabic_female_1" are logical names, only raw voice ids are passed through.
	voice := c.cfg.Voice
	if isVoiceID(req.Voice) {
		voice = req.Voice
	}

	payload, err := json.Marshal(map[string]interface{}{
		"text":     req.Text,
		"model_id": c.cfg.Model,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", c.cfg.BaseURL, url.PathEscape(voice), url.QueryEscape(outputFormat))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("failed to create TTS request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse(resp, ProviderName); err != nil {
		return providers.TTSResult{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("failed to read TTS audio: %w", err)
	}
	return providers.TTSResult{Audio: data, Format: format, Provider: ProviderName}, nil
}

func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse(resp, ProviderName); err != nil {
		return nil, err
	}

	var out struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	return out.Voices, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListVoices(ctx)
	return err
}

// isVoiceID reports whether v looks like an ElevenLabs voice id (20 alphanumerics).
func isVoiceID(v string) bool {
	if len(v) != 20 {
		return false
	}
	for _, r := range v {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
