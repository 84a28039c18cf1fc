// Package apperr defines the error taxonomy shared by processors. Handlers never inspect it
// directly, they hand errors to apierrors.RespondWithError which maps a Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is an error category. Kinds are comparable sentinels so errors.Is(err, apperr.NotFound)
// works on any wrapped *Error.
type Kind struct {
	name   string
	parent *Kind
}

func (k *Kind) Error() string { return k.name }

// Name returns the kind identifier, e.g. "stt".
func (k *Kind) Name() string { return k.name }

// Under reports whether k is, or descends from, other.
func (k *Kind) Under(other *Kind) bool {
	for cur := k; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}

func newKind(name string, parent *Kind) *Kind {
	return &Kind{name: name, parent: parent}
}

var (
	Authentication = newKind("authentication", nil)
	TokenExpired   = newKind("token_expired", Authentication)
	InvalidToken   = newKind("invalid_token", Authentication)

	Authorization = newKind("authorization", nil)

	Domain           = newKind("domain", nil)
	NotFound         = newKind("not_found", Domain)
	AlreadyExists    = newKind("already_exists", Domain)
	BusinessRule     = newKind("business_rule", Domain)
	Concurrency      = newKind("concurrency", Domain)
	InvalidOperation = newKind("invalid_operation", Domain)

	Validation = newKind("validation", nil)
	Schema     = newKind("schema", Validation)
	File       = newKind("file", Validation)

	Tenant             = newKind("tenant", nil)
	TenantNotFound     = newKind("tenant_not_found", Tenant)
	TenantAccessDenied = newKind("tenant_access_denied", Tenant)

	Infrastructure  = newKind("infrastructure", nil)
	Database        = newKind("database", Infrastructure)
	Cache           = newKind("cache", Infrastructure)
	FileStorage     = newKind("file_storage", Infrastructure)
	ExternalService = newKind("external_service", Infrastructure)
	STT             = newKind("stt", ExternalService)
	TTS             = newKind("tts", ExternalService)
	LLM             = newKind("llm", ExternalService)

	CallProcessing     = newKind("call_processing", nil)
	AudioProcessing    = newKind("audio_processing", CallProcessing)
	Transcription      = newKind("transcription", CallProcessing)
	ResponseGeneration = newKind("response_generation", CallProcessing)

	Knowledge          = newKind("knowledge", nil)
	DocumentProcessing = newKind("document_processing", Knowledge)
	Embedding          = newKind("embedding", Knowledge)
	Search             = newKind("search", Knowledge)

	Automation      = newKind("automation", nil)
	ActionExecution = newKind("action_execution", Automation)
	Workflow        = newKind("workflow", Automation)

	RateLimited = newKind("rate_limited", nil)
)

// Error is a categorised application error.
type Error struct {
	Kind    *Kind
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

// New creates an error of the given kind.
func New(kind *Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind carrying cause.
func Wrap(kind *Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.name)
	if e.Code != "" {
		b.WriteString("[" + e.Code + "]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind sentinel (including ancestors) or another *Error with the same kind and code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case *Kind:
		return e.Kind.Under(t)
	case *Error:
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

// WithDetails returns e after setting a detail entry.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or nil.
func KindOf(err error) *Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return nil
}

// Validationf is shorthand for a Validation error with a formatted message.
func Validationf(code, format string, args ...interface{}) *Error {
	return New(Validation, code, fmt.Sprintf(format, args...))
}
