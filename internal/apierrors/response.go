package apierrors

import (
	"errors"
	"net/http"

	"ai-hotline/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Package-level logger that uses context for observability
var logger = observability.NewLogger()

// ErrorResponse is the JSON structure returned to API clients for errors
type ErrorResponse struct {
	Error   string                 `json:"error"`             // Machine-readable error code
	Message string                 `json:"message"`           // User-friendly error message
	Details map[string]interface{} `json:"details,omitempty"` // Field-level context for 4xx errors
}

// RespondWithError converts err to an APIError, logs it for correlation and sends a sanitized
// JSON response. Processors already logged the detailed error.
//
//	if err != nil {
//	    apierrors.RespondWithError(c, err)
//	    return
//	}
func RespondWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	ctx := c.Request.Context()
	apiErr := MapError(err)

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "status_code", Value: apiErr.StatusCode},
		observability.Field{Key: "error_code", Value: apiErr.Code},
	)
	if apiErr.StatusCode >= 500 {
		logger.Error(ctx, "API error response", err)
	} else {
		logger.Info(ctx, "API error response")
	}

	if apiErr.StatusCode == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	c.AbortWithStatusJSON(apiErr.StatusCode, ErrorResponse{
		Error:   apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	})
}

// RespondWithValidationError handles Gin binding/validation errors and returns structured
// validation error responses. Use it when c.ShouldBindJSON or similar fails.
func RespondWithValidationError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	ctx := c.Request.Context()

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		apiErr := ValidationError(validationErrs)
		logger.Info(observability.WithFields(ctx, observability.Field{Key: "validation", Value: apiErr.Message}), "Validation failed")
		c.AbortWithStatusJSON(apiErr.StatusCode, ErrorResponse{
			Error:   apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		})
		return
	}

	logger.Info(ctx, "Request binding failed")
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   CodeInvalidInput,
		Message: "Invalid request format. Please check your JSON syntax.",
	})
}
