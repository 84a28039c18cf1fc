package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_RoundTrip(t *testing.T) {
	c, err := New("test-secret")
	require.NoError(t, err)

	enc, err := c.Encrypt("sk-live-123")
	require.NoError(t, err)
	assert.NotContains(t, enc, "sk-live-123")

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", dec)

	again, err := c.Encrypt("sk-live-123")
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "nonce must differ per encryption")
}

func TestCipher_Tampered(t *testing.T) {
	c, err := New("test-secret")
	require.NoError(t, err)
	enc, err := c.Encrypt("value")
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(enc)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Decrypt(base64.URLEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.Decrypt("!!not-base64!!")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.Decrypt(base64.URLEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCipher_WrongKey(t *testing.T) {
	a, _ := New("key-a")
	b, _ := New("key-b")
	enc, err := a.Encrypt("value")
	require.NoError(t, err)
	_, err = b.Decrypt(enc)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCipher_Maps(t *testing.T) {
	c, _ := New("test-secret")
	enc, err := c.EncryptMap(map[string]string{"openai": "sk-1", "empty": ""})
	require.NoError(t, err)
	assert.Equal(t, "", enc["empty"])

	dec, err := c.DecryptMap(enc)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"openai": "sk-1", "empty": ""}, dec)
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}
