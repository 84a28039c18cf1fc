package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindHierarchy(t *testing.T) {
	err := Wrap(STT, "STT_FAILED", "transcription failed", errors.New("boom"))

	assert.True(t, errors.Is(err, STT))
	assert.True(t, errors.Is(err, ExternalService))
	assert.True(t, errors.Is(err, Infrastructure))
	assert.False(t, errors.Is(err, Domain))
	assert.False(t, errors.Is(err, TTS))
}

func TestError_IsThroughWrapping(t *testing.T) {
	base := New(NotFound, "CALL_NOT_FOUND", "call not found")
	wrapped := fmt.Errorf("get call: %w", base)

	assert.True(t, errors.Is(wrapped, NotFound))
	assert.True(t, errors.Is(wrapped, Domain))

	got, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "CALL_NOT_FOUND", got.Code)
	assert.Equal(t, NotFound, KindOf(wrapped))
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Database, "DB", "query failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "database[DB]: query failed: connection refused")
}

func TestError_WithDetails(t *testing.T) {
	err := Validationf("INVALID_EMAIL", "invalid email %q", "x").WithDetails("field", "email")

	assert.Equal(t, "email", err.Details["field"])
	assert.Equal(t, `invalid email "x"`, err.Message)
	assert.True(t, errors.Is(err, Validation))
}

func TestKindOf_NonAppError(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("plain")))
}
