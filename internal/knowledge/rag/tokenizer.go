package rag

import (
	"context"
	"sync"
	"unicode/utf8"

	"ai-hotline/internal/observability"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

type Tokenizer interface {
	CountTokens(text string) int
}

// EstimateTokenizer assumes roughly four characters per token.
type EstimateTokenizer struct{}

func (EstimateTokenizer) CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// TiktokenTokenizer counts cl100k_base tokens. The encoding is loaded on first use.
type TiktokenTokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		t.enc, t.initErr = tiktoken.GetEncoding(t.encoding)
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return EstimateTokenizer{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenizer returns a tiktoken tokenizer when its encoding can be loaded and the estimator otherwise.
func NewTokenizer(logger *observability.Logger) Tokenizer {
	t := &TiktokenTokenizer{encoding: defaultEncoding}
	if err := t.init(); err != nil {
		logger.WarnWithError(context.Background(), "tiktoken unavailable, using estimated token counts", err)
		return EstimateTokenizer{}
	}
	return t
}
