package apierrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type startCallBody struct {
	CallerNumber string `json:"caller_number" validate:"required,e164"`
	Priority     string `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	Score        int    `json:"score" validate:"max=5"`
	Password     string `json:"password" validate:"min=8"`
	Internal     string `json:"-" validate:"required"`
}

func validate(t *testing.T, body startCallBody) validator.ValidationErrors {
	t.Helper()
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	var errs validator.ValidationErrors
	require.True(t, errors.As(v.Struct(body), &errs))
	return errs
}

func TestValidationError_UsesJSONNames(t *testing.T) {
	errs := validate(t, startCallBody{CallerNumber: "0100", Priority: "asap", Score: 9, Password: "short", Internal: "x"})

	apiErr := ValidationError(errs)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, CodeInvalidInput, apiErr.Code)

	fields := apiErr.Details["fields"].(map[string]interface{})
	assert.Equal(t, "e164", fields["caller_number"])
	assert.Equal(t, "oneof", fields["priority"])
	assert.Equal(t, "max", fields["score"])
	assert.Equal(t, "min", fields["password"])

	assert.Contains(t, apiErr.Message, "caller_number must be a phone number in E.164 format")
	assert.Contains(t, apiErr.Message, "score must be at most 5")
	assert.Contains(t, apiErr.Message, "password must be at least 8 characters")
}

func TestValidationError_SingleField(t *testing.T) {
	errs := validate(t, startCallBody{CallerNumber: "+15550001111", Password: "long-enough", Internal: ""})

	apiErr := ValidationError(errs)
	assert.Equal(t, "Internal is required", apiErr.Message)
}
