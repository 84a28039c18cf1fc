// Package secrets encrypts tenant credentials at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySalt       = "ai_hotline_salt"
	keyIterations = 100000
	keyLength     = 32
)

var (
	ErrEmptySecret  = errors.New("secret key is empty")
	ErrInvalidToken = errors.New("invalid encrypted value")
)

// Cipher is an AES-256-GCM cipher keyed from the application secret.
type Cipher struct {
	aead cipher.AEAD
}

func New(secretKey string) (*Cipher, error) {
	if secretKey == "" {
		return nil, ErrEmptySecret
	}
	key := pbkdf2.Key([]byte(secretKey), []byte(keySalt), keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns base64url(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrInvalidToken
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plain), nil
}

// EncryptMap encrypts every value of fields. Empty values are kept empty.
func (c *Cipher) EncryptMap(fields map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if v == "" {
			out[k] = ""
			continue
		}
		enc, err := c.Encrypt(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

func (c *Cipher) DecryptMap(fields map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if v == "" {
			out[k] = ""
			continue
		}
		dec, err := c.Decrypt(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}
