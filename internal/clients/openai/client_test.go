package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, observability.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, observability.NewNopLogger())
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" Hello there "}}],
			"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	})

	res, err := c.Generate(ctx, providers.LLMRequest{
		System:   "be brief",
		Messages: []providers.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hey"}, {Role: "user", Content: "how?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.Text)
	assert.Equal(t, ProviderName, res.Provider)
	assert.Equal(t, 12, res.Usage.PromptTokens)
	assert.Equal(t, 3, res.Usage.CompletionTokens)

	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]interface{})["role"])
	assert.Equal(t, "gpt-4o-mini", body["model"])
}

func TestGenerate_ClientErrorIsNotRetryable(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	})

	_, err := c.Generate(ctx, providers.LLMRequest{Messages: []providers.Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.True(t, providers.IsClientError(err))

	_, err = c.Generate(ctx, providers.LLMRequest{})
	assert.ErrorIs(t, err, providers.ErrInvalidInput)
}

func TestGenerate_ServerErrorIsRetryable(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	})

	_, err := c.Generate(ctx, providers.LLMRequest{Messages: []providers.Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.False(t, providers.IsClientError(err))
	assert.True(t, providers.IsRetryable(err))
}

func TestTranscribe(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "ar", r.FormValue("language"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "audio.wav", header.Filename)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" مرحبا "}`)
	})

	res, err := c.Transcribe(ctx, providers.STTRequest{Audio: []byte{0xFF, 0xFF}, Format: "ulaw_8000", Language: "ar-EG"})
	require.NoError(t, err)
	assert.Equal(t, "مرحبا", res.Text)
	assert.Equal(t, "ar-EG", res.Language)

	_, err = c.Transcribe(ctx, providers.STTRequest{})
	assert.ErrorIs(t, err, providers.ErrInvalidInput)
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":1,"embedding":[0,1]},{"object":"embedding","index":0,"embedding":[1,0]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`)
	})

	vecs, err := c.Embed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 1536, c.Dimensions())
}

func TestSynthesize(t *testing.T) {
	ctx := context.Background()
	var formats []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		formats = append(formats, body["response_format"].(string))
		assert.Equal(t, "alloy", body["voice"])
		if body["response_format"] == "pcm" {
			_, _ = w.Write(make([]byte, 480*2))
			return
		}
		_, _ = w.Write([]byte("mp3-bytes"))
	})

	res, err := c.Synthesize(ctx, providers.TTSRequest{Text: "hello", Voice: "arabic_female_1"})
	require.NoError(t, err)
	assert.Equal(t, "mp3", res.Format)
	assert.Equal(t, []byte("mp3-bytes"), res.Audio)

	res, err = c.Synthesize(ctx, providers.TTSRequest{Text: "hello", Format: "ulaw_8000"})
	require.NoError(t, err)
	assert.Equal(t, "ulaw_8000", res.Format)
	assert.Len(t, res.Audio, 160)
	assert.Equal(t, []string{"mp3", "pcm"}, formats)
}

func TestSynthesize_Unauthorized(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
	})
	_, err := c.Synthesize(ctx, providers.TTSRequest{Text: "hello"})
	var se *providers.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "invalid api key", se.Message)
	assert.Error(t, c.Ping(ctx))
}

func TestGenerateStream_StopsWhenReaderGoesAway(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < streamBuffer; i++ {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o-mini\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":\"t%d \"}}]}\n\n", i)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	ctx, cancel := context.WithCancel(context.Background())

	out, err := c.GenerateStream(ctx, providers.LLMRequest{Messages: []providers.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(out) == streamBuffer }, 2*time.Second, 5*time.Millisecond)
	cancel()

	var chunks []providers.StreamChunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				require.Len(t, chunks, streamBuffer)
				for _, chunk := range chunks {
					assert.NotEmpty(t, chunk.Text)
					assert.False(t, chunk.Done)
					assert.NoError(t, chunk.Err)
				}
				return
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("stream goroutine did not exit after cancellation")
		}
	}
}
