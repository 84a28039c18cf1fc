package munsit

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

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcribe", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, defaultModel, r.FormValue("model"))
		assert.Equal(t, "ar-EG", r.FormValue("language"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data[:4]))

		_, _ = io.WriteString(w, `{"text":" عايز أعرف الفاتورة ","confidence":0.87}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL}, observability.NewNopLogger())
	require.NoError(t, err)

	res, err := c.Transcribe(context.Background(), providers.STTRequest{Audio: []byte{1, 2, 3}, Format: "ulaw_8000", Language: "ar-EG"})
	require.NoError(t, err)
	assert.Equal(t, "عايز أعرف الفاتورة", res.Text)
	assert.InDelta(t, 0.87, res.Confidence, 1e-9)
	assert.Equal(t, "ar-EG", res.Language)
	assert.Equal(t, ProviderName, res.Provider)
}

func TestTranscribe_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"detail":"upstream down"}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "key", BaseURL: srv.URL}, observability.NewNopLogger())
	require.NoError(t, err)

	_, err = c.Transcribe(context.Background(), providers.STTRequest{Audio: []byte{1}})
	var se *providers.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "upstream down", se.Message)
	assert.True(t, se.Retryable())

	_, err = c.Transcribe(context.Background(), providers.STTRequest{})
	assert.ErrorIs(t, err, providers.ErrInvalidInput)

	_, err = NewClient(Config{}, observability.NewNopLogger())
	assert.Error(t, err)
}
