package apierrors

import (
	"context"
	"errors"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/store"
)

// MapError converts processor errors to APIErrors.
//
// If the error is already an APIError, it returns it as-is.
// A categorised apperr.Error is mapped by its kind.
// Anything else becomes a sanitized InternalError (500).
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if appErr, ok := apperr.As(err); ok {
		return mapAppError(appErr)
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return NotFound(CodeNotFound, "Resource not found")
	case errors.Is(err, store.ErrUnavailable):
		return ServiceUnavailable(CodeDatabaseError, "Database is temporarily unavailable. Please try again later.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return ServiceUnavailable(CodeServiceUnavailable, "The request timed out. Please try again later.", err)
	}

	return InternalError(err)
}

func mapAppError(e *apperr.Error) *APIError {
	code := e.Code
	orDefault := func(def string) string {
		if code == "" {
			return def
		}
		return code
	}

	var out *APIError
	k := e.Kind
	switch {
	case k.Under(apperr.TokenExpired):
		out = newAPIError(401, orDefault(CodeTokenExpired), e.Message)
	case k.Under(apperr.InvalidToken):
		out = newAPIError(401, orDefault(CodeInvalidToken), e.Message)
	case k.Under(apperr.Authentication):
		out = newAPIError(401, orDefault(CodeUnauthorized), e.Message)
	case k.Under(apperr.Authorization):
		out = newAPIError(403, orDefault(CodeForbidden), e.Message)
	case k.Under(apperr.NotFound):
		out = NotFound(orDefault(CodeNotFound), e.Message)
	case k.Under(apperr.AlreadyExists):
		out = Conflict(orDefault(CodeConflict), e.Message)
	case k.Under(apperr.Domain):
		out = Unprocessable(orDefault(CodeUnprocessable), e.Message)
	case k.Under(apperr.Validation):
		out = BadRequest(orDefault(CodeInvalidInput), e.Message)
	case k.Under(apperr.TenantNotFound):
		out = NotFound(orDefault(CodeNotFound), e.Message)
	case k.Under(apperr.Tenant):
		out = newAPIError(403, orDefault(CodeForbidden), e.Message)
	case k.Under(apperr.Database):
		out = ServiceUnavailable(orDefault(CodeDatabaseError), "Database is temporarily unavailable. Please try again later.", e)
	case k.Under(apperr.Cache):
		out = ServiceUnavailable(orDefault(CodeCacheError), "Cache is temporarily unavailable. Please try again later.", e)
	case k.Under(apperr.FileStorage):
		out = ServiceUnavailable(orDefault(CodeStorageError), "File storage is temporarily unavailable. Please try again later.", e)
	case k.Under(apperr.STT):
		out = BadGateway(orDefault(CodeSTTError), "Speech recognition is temporarily unavailable.", e)
	case k.Under(apperr.TTS):
		out = BadGateway(orDefault(CodeTTSError), "Speech synthesis is temporarily unavailable.", e)
	case k.Under(apperr.LLM):
		out = BadGateway(orDefault(CodeLLMError), "Response generation is temporarily unavailable.", e)
	case k.Under(apperr.ExternalService):
		out = BadGateway(orDefault(CodeExternalService), "An external service is temporarily unavailable.", e)
	case k.Under(apperr.CallProcessing), k.Under(apperr.Knowledge), k.Under(apperr.Automation):
		out = Unprocessable(orDefault(CodeUnprocessable), e.Message)
	case k.Under(apperr.RateLimited):
		out = TooManyRequests(orDefault(CodeRateLimited), e.Message)
	default:
		return InternalError(e)
	}

	// Infrastructure messages are replaced above, so details are only exposed for client-facing kinds.
	if out.StatusCode < 500 {
		out.Details = e.Details
	}
	return out
}
