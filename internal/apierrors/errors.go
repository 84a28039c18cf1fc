package apierrors

import (
	"fmt"
	"net/http"
)

// Machine-readable error codes returned to clients.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeUnprocessable      = "UNPROCESSABLE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeDatabaseError      = "DATABASE_UNAVAILABLE"
	CodeCacheError         = "CACHE_UNAVAILABLE"
	CodeStorageError       = "STORAGE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeSTTError           = "STT_SERVICE_ERROR"
	CodeTTSError           = "TTS_SERVICE_ERROR"
	CodeLLMError           = "LLM_SERVICE_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// APIError is an error ready to be sent to a client.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func newAPIError(status int, code, message string) *APIError {
	return &APIError{StatusCode: status, Code: code, Message: message}
}

func BadRequest(code, message string) *APIError {
	return newAPIError(http.StatusBadRequest, code, message)
}

func Unauthorized(message string) *APIError {
	return newAPIError(http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(message string) *APIError {
	return newAPIError(http.StatusForbidden, CodeForbidden, message)
}

func NotFound(code, message string) *APIError {
	return newAPIError(http.StatusNotFound, code, message)
}

func Conflict(code, message string) *APIError {
	return newAPIError(http.StatusConflict, code, message)
}

func Unprocessable(code, message string) *APIError {
	return newAPIError(http.StatusUnprocessableEntity, code, message)
}

func TooManyRequests(code, message string) *APIError {
	return newAPIError(http.StatusTooManyRequests, code, message)
}

// BadGateway wraps an upstream provider failure. internalErr is kept for logging only.
func BadGateway(code, message string, internalErr error) *APIError {
	e := newAPIError(http.StatusBadGateway, code, message)
	e.Err = internalErr
	return e
}

// ServiceUnavailable wraps an infrastructure failure. internalErr is kept for logging only.
func ServiceUnavailable(code, message string, internalErr error) *APIError {
	e := newAPIError(http.StatusServiceUnavailable, code, message)
	e.Err = internalErr
	return e
}

// InternalError is a sanitized 500 - never exposes internal details.
func InternalError(internalErr error) *APIError {
	e := newAPIError(http.StatusInternalServerError, CodeInternalError, "An internal error occurred. Please try again later.")
	e.Err = internalErr
	return e
}
