package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrInvalidInput marks an error caused by the request: it is neither retried nor counted by the breaker.
	ErrInvalidInput       = errors.New("invalid provider input")
	ErrNoProviders        = errors.New("no providers configured")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// StatusError is an HTTP error returned by a vendor API.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrInvalidInput) match 4xx responses other than 429.
func (e *StatusError) Is(target error) bool {
	return target == ErrInvalidInput && e.clientError()
}

func (e *StatusError) clientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Retryable is true for 429 and 5xx responses.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsClientError reports whether err was caused by the request rather than the provider.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRetryable reports whether another attempt at the same provider could succeed.
func IsRetryable(err error) bool {
	if err == nil || IsClientError(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// CheckResponse returns a *StatusError for non-2xx responses.
func CheckResponse(resp *http.Response, provider string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Provider: provider, StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
}

// readErrorMessage extracts {"error":{"message":...}}, {"detail":...} or raw text from an error body.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error   json.RawMessage `json:"error"`
		Detail  interface{}     `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(data, &errResp) == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(errResp.Error) > 0 && json.Unmarshal(errResp.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var plain string
		if len(errResp.Error) > 0 && json.Unmarshal(errResp.Error, &plain) == nil && plain != "" {
			return plain
		}
		if s, ok := errResp.Detail.(string); ok && s != "" {
			return s
		}
		if errResp.Message != "" {
			return errResp.Message
		}
	}
	return strings.TrimSpace(string(data))
}
