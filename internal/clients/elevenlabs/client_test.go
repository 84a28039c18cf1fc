package elevenlabs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "xi", BaseURL: srv.URL}, observability.NewNopLogger())
	require.NoError(t, err)
	return c
}

func TestSynthesize(t *testing.T) {
	var paths, formats []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "xi", r.Header.Get("xi-api-key"))
		paths = append(paths, r.URL.Path)
		formats = append(formats, r.URL.Query().Get("output_format"))
		_, _ = w.Write([]byte("audio"))
	})

	res, err := c.Synthesize(context.Background(), providers.TTSRequest{Text: "أهلا", Voice: "arabic_female_1"})
	require.NoError(t, err)
	assert.Equal(t, "mp3", res.Format)
	assert.Equal(t, []byte("audio"), res.Audio)

	res, err = c.Synthesize(context.Background(), providers.TTSRequest{Text: "hi", Voice: "AZnzlk1XvdvUeBnXmlld", Format: "ulaw_8000"})
	require.NoError(t, err)
	assert.Equal(t, "ulaw_8000", res.Format)

	assert.Equal(t, []string{"/text-to-speech/" + defaultVoiceID, "/text-to-speech/AZnzlk1XvdvUeBnXmlld"}, paths)
	assert.Equal(t, []string{"mp3_44100_128", "ulaw_8000"}, formats)

	_, err = c.Synthesize(context.Background(), providers.TTSRequest{Text: "hi", Format: "flac"})
	assert.ErrorIs(t, err, providers.ErrInvalidInput)
	_, err = c.Synthesize(context.Background(), providers.TTSRequest{Text: "  "})
	assert.ErrorIs(t, err, providers.ErrInvalidInput)
}

func TestListVoicesAndPing(t *testing.T) {
	fail := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voices", r.URL.Path)
		if fail {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":{"status":"invalid_api_key"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"voices":[{"voice_id":"v1","name":"Rachel","category":"premade"}]}`)
	})

	voices, err := c.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "Rachel", voices[0].Name)
	assert.NoError(t, c.Ping(context.Background()))

	fail = true
	err = c.Ping(context.Background())
	assert.True(t, providers.IsClientError(err))
}
