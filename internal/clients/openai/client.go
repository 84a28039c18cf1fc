package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/voice/audio"

	"github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"
)

const (
	ProviderName = "openai"

	defaultBaseURL          = "https://api.openai.com/v1"
	defaultChatModel        = "gpt-4o-mini"
	defaultEmbeddingModel   = "text-embedding-3-small"
	defaultEmbeddingDims    = 1536
	defaultTTSModel         = "tts-1"
	defaultVoice            = "alloy"
	speechPCMSampleRate     = 24000
	telephonySampleRate     = 8000
	formatMuLaw             = "ulaw_8000"
	transcriptionConfidence = 0.9
	streamBuffer            = 16
)

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	TTSModel       string
	Voice          string
	HTTPClient     *http.Client
}

// Client serves chat completions, whisper transcription, embeddings and speech for one API key.
// It satisfies providers.LLMProvider, LLMStreamer, STTProvider, TTSProvider, Embedder and Pinger.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *observability.Logger
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = defaultTTSModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

func (c *Client) Name() string { return ProviderName }

// options builds SDK options. Retries are disabled because the provider chain retries.
func (c *Client) options() []openaiOption.RequestOption {
	return []openaiOption.RequestOption{
		openaiOption.WithAPIKey(c.cfg.APIKey),
		openaiOption.WithBaseURL(c.cfg.BaseURL + "/"),
		openaiOption.WithHTTPClient(c.http),
		openaiOption.WithMaxRetries(0),
	}
}

func (c *Client) chatParams(req providers.LLMRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.ChatModel),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

func (c *Client) Generate(ctx context.Context, req providers.LLMRequest) (providers.LLMResult, error) {
	if len(req.Messages) == 0 {
		return providers.LLMResult{}, fmt.Errorf("%w: no messages", providers.ErrInvalidInput)
	}
	client := openai.NewClient(c.options()...)

	resp, err := client.Chat.Completions.New(ctx, c.chatParams(req))
	if err != nil {
		return providers.LLMResult{}, c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return providers.LLMResult{}, fmt.Errorf("openai: empty completion")
	}

	return providers.LLMResult{
		Text:     strings.TrimSpace(resp.Choices[0].Message.Content),
		Provider: ProviderName,
		Usage: providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *Client) GenerateStream(ctx context.Context, req providers.LLMRequest) (<-chan providers.StreamChunk, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: no messages", providers.ErrInvalidInput)
	}
	client := openai.NewClient(c.options()...)
	stream := client.Chat.Completions.NewStreaming(ctx, c.chatParams(req))

	out := make(chan providers.StreamChunk, streamBuffer)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !providers.SendChunk(ctx, out, providers.StreamChunk{Text: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			providers.SendChunk(ctx, out, providers.StreamChunk{Err: c.classify(err)})
			return
		}
		providers.SendChunk(ctx, out, providers.StreamChunk{Done: true})
	}()
	return out, nil
}

func (c *Client) Transcribe(ctx context.Context, req providers.STTRequest) (providers.STTResult, error) {
	if len(req.Audio) == 0 {
		return providers.STTResult{}, fmt.Errorf("%w: empty audio", providers.ErrInvalidInput)
	}

	data, filename, contentType := req.Audio, "audio.wav", "audio/wav"
	switch req.Format {
	case formatMuLaw:
		data = audio.WrapMuLawWAV(req.Audio, telephonySampleRate)
	case "mp3":
		filename, contentType = "audio.mp3", "audio/mpeg"
	case "m4a":
		filename, contentType = "audio.m4a", "audio/mp4"
	}

	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(data), filename, contentType),
	}
	lang := baseLanguage(req.Language)
	if lang != "" {
		params.Language = openai.String(lang)
	}
	if req.Prompt != "" {
		params.Prompt = openai.String(req.Prompt)
	}

	client := openai.NewClient(c.options()...)
	resp, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return providers.STTResult{}, c.classify(err)
	}

	return providers.STTResult{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: transcriptionConfidence,
		Language:   req.Language,
		Provider:   ProviderName,
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client := openai.NewClient(c.options()...)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, c.classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) Dimensions() int { return defaultEmbeddingDims }

// Synthesize calls /audio/speech. ulaw_8000 is produced from the 24 kHz pcm response.
func (c *Client) Synthesize(ctx context.Context, req providers.TTSRequest) (providers.TTSResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return providers.TTSResult{}, fmt.Errorf("%w: empty text", providers.ErrInvalidInput)
	}
	voice := req.Voice
	if !knownVoices[voice] {
		voice = c.cfg.Voice
	}
	responseFormat := "mp3"
	if req.Format == formatMuLaw {
		responseFormat = "pcm"
	}

	body, err := json.Marshal(map[string]interface{}{
		"model":           c.cfg.TTSModel,
		"voice":           voice,
		"input":           req.Text,
		"response_format": responseFormat,
	})
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("failed to create TTS request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("OpenAI TTS request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := providers.CheckResponse(resp, ProviderName); err != nil {
		return providers.TTSResult{}, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.TTSResult{}, fmt.Errorf("failed to read TTS audio: %w", err)
	}
	if responseFormat == "pcm" {
		return providers.TTSResult{Audio: audio.ConvertPCM24kHzToMuLaw8kHz(data), Format: formatMuLaw, Provider: ProviderName}, nil
	}
	return providers.TTSResult{Audio: data, Format: "mp3", Provider: ProviderName}, nil
}

// Ping lists models, which needs a valid key and costs nothing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return providers.CheckResponse(resp, ProviderName)
}

// classify converts SDK API errors to *providers.StatusError so the chain can tell client errors apart.
func (c *Client) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &providers.StatusError{Provider: ProviderName, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return err
}

var knownVoices = map[string]bool{
	"alloy": true, "ash": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true,
}

// baseLanguage turns "ar-EG" into the ISO-639-1 code whisper expects.
func baseLanguage(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}
