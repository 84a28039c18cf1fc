// Package providers defines the STT, LLM, TTS and embedding provider interfaces and the
// registry that turns configured providers into ordered fallback chains.
package providers

import "context"

type Kind string

const (
	KindSTT       Kind = "stt"
	KindLLM       Kind = "llm"
	KindTTS       Kind = "tts"
	KindEmbedding Kind = "embedding"
)

type STTRequest struct {
	Audio []byte
	// Format is the audio container or encoding, e.g. "wav", "mp3", "ulaw_8000".
	Format   string
	Language string
	Prompt   string
}

type STTResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Provider   string  `json:"provider"`
}

type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type LLMRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type LLMResult struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Usage    Usage  `json:"usage"`
}

type TTSRequest struct {
	Text     string
	Voice    string
	Language string
	// Format is "mp3" or "ulaw_8000".
	Format string
}

type TTSResult struct {
	Audio    []byte
	Format   string
	Provider string
}

type StreamChunk struct {
	Text string
	Err  error
	Done bool
}

// SendChunk delivers chunk unless ctx is done first, and reports whether it was delivered.
func SendChunk(ctx context.Context, out chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

type STTProvider interface {
	Name() string
	Transcribe(ctx context.Context, req STTRequest) (STTResult, error)
}

type LLMProvider interface {
	Name() string
	Generate(ctx context.Context, req LLMRequest) (LLMResult, error)
}

// LLMStreamer is implemented by LLM providers that can stream tokens.
type LLMStreamer interface {
	GenerateStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error)
}

type TTSProvider interface {
	Name() string
	Synthesize(ctx context.Context, req TTSRequest) (TTSResult, error)
}

type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimensions() int
}

// Pinger is implemented by providers with a cheap liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}
