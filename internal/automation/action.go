// Package automation detects caller intents and runs the actions bound to them: webhooks,
// escalation to a human, SMS and email follow-ups.
package automation

import (
	"context"
	"errors"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/identity"

	"github.com/google/uuid"
)

const (
	ActionWebhook   = "webhook"
	ActionEscalate  = "escalate_to_human"
	ActionSendSMS   = "send_sms"
	ActionSendEmail = "send_email"
	ActionLogOnly   = "log_only"
)

const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

var (
	ErrFeatureDisabled = apperr.New(apperr.Automation, "FEATURE_DISABLED", "automation is not enabled for this tenant")
	ErrUnknownAction   = apperr.New(apperr.Automation, "UNKNOWN_ACTION", "unknown automation action")
	ErrDuplicateAction = errors.New("automation action already registered")
)

type ActionRequest struct {
	TenantID     uuid.UUID              `json:"tenant_id"`
	CallID       uuid.UUID              `json:"call_id"`
	Action       string                 `json:"action"`
	Intent       string                 `json:"intent"`
	Params       map[string]interface{} `json:"params,omitempty"`
	CallerNumber string                 `json:"caller_number,omitempty"`
	Language     string                 `json:"language,omitempty"`
	Transcript   string                 `json:"transcript,omitempty"`
	Reply        string                 `json:"reply,omitempty"`

	// Tenant is resolved by the dispatcher before the action runs.
	Tenant *identity.Tenant `json:"-"`
}

func (r ActionRequest) Param(key string) string {
	if v, ok := r.Params[key].(string); ok {
		return v
	}
	return ""
}

type ActionResult struct {
	Status string                 `json:"status"`
	Output map[string]interface{} `json:"output,omitempty"`
}

type Action interface {
	Name() string
	Description() string
	Execute(ctx context.Context, req ActionRequest) (ActionResult, error)
}

// permanentError marks a failure that retrying cannot fix, such as missing configuration or a 4xx.
type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

func permanent(err error) error { return permanentError{err} }

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var p permanentError
	if errors.As(err, &p) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, apperr.Validation) {
		return false
	}
	return true
}
