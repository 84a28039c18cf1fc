package identity

import (
	"time"

	"ai-hotline/internal/apperr"

	"github.com/google/uuid"
)

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantTrial     TenantStatus = "trial"
	TenantExpired   TenantStatus = "expired"
)

// Feature and setting keys understood by the call pipeline.
const (
	FeatureSTT                 = "stt"
	FeatureTTS                 = "tts"
	FeatureLLMProviders        = "llm_providers"
	FeatureKnowledgeManagement = "knowledge_management"
	FeatureAutomation          = "automation"
	FeatureAnalytics           = "analytics"
	FeatureAPIAccess           = "api_access"

	SettingDefaultLanguage    = "default_language"
	SettingVoice              = "voice"
	SettingCallTimeout        = "call_timeout"
	SettingMaxCallDuration    = "max_call_duration"
	SettingAutoTranscription  = "auto_transcription"
	SettingDataRetentionDays  = "data_retention_days"
	SettingPersona            = "persona"
	SettingGreeting           = "greeting"
	SettingSummaryEmail       = "summary_email"
	SettingWebhookURL         = "automation_webhook_url"
	SettingWebhookSecret      = "automation_webhook_secret"
	SettingProviderSTT        = "stt_providers"
	SettingProviderLLM        = "llm_providers"
	SettingProviderTTS        = "tts_providers"
	SettingProviderEmbeddings = "embedding_providers"
	SettingProviderKeys       = "provider_credentials"
)

// KnownSettings lists the keys a tenant admin may set.
var KnownSettings = map[string]bool{
	SettingDefaultLanguage:    true,
	SettingVoice:              true,
	SettingCallTimeout:        true,
	SettingMaxCallDuration:    true,
	SettingAutoTranscription:  true,
	SettingDataRetentionDays:  true,
	SettingPersona:            true,
	SettingGreeting:           true,
	SettingSummaryEmail:       true,
	SettingWebhookURL:         true,
	SettingWebhookSecret:      true,
	SettingProviderSTT:        true,
	SettingProviderLLM:        true,
	SettingProviderTTS:        true,
	SettingProviderEmbeddings: true,
}

// Tenant is an isolated customer organisation.
type Tenant struct {
	ID               uuid.UUID              `json:"id"`
	Name             TenantName             `json:"name"`
	Status           TenantStatus           `json:"status"`
	MaxUsers         int                    `json:"max_users"`
	MaxCallsPerMonth int                    `json:"max_calls_per_month"`
	MaxStorageMB     int                    `json:"max_storage_mb"`
	Features         map[string]interface{} `json:"features"`
	Settings         map[string]interface{} `json:"settings"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

func DefaultFeatures() map[string]interface{} {
	return map[string]interface{}{
		FeatureSTT:                 true,
		FeatureTTS:                 true,
		FeatureLLMProviders:        []interface{}{"openai"},
		FeatureKnowledgeManagement: true,
		FeatureAutomation:          false,
		FeatureAnalytics:           true,
		FeatureAPIAccess:           false,
	}
}

func DefaultSettings() map[string]interface{} {
	return map[string]interface{}{
		SettingDefaultLanguage:   "ar-EG",
		SettingVoice:             "arabic_female_1",
		SettingCallTimeout:       300,
		SettingMaxCallDuration:   30,
		SettingAutoTranscription: true,
		SettingDataRetentionDays: 365,
	}
}

// NewTenant creates a trial tenant with default limits, features and settings.
func NewTenant(name TenantName) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		ID:               uuid.New(),
		Name:             name,
		Status:           TenantTrial,
		MaxUsers:         5,
		MaxCallsPerMonth: 100,
		MaxStorageMB:     1000,
		Features:         DefaultFeatures(),
		Settings:         DefaultSettings(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (t *Tenant) touch() { t.UpdatedAt = time.Now().UTC() }

func (t *Tenant) IsActive() bool { return t.Status == TenantActive }

func (t *Tenant) Activate() error {
	if t.Status == TenantExpired {
		return apperr.New(apperr.BusinessRule, "TENANT_EXPIRED", "cannot activate an expired tenant")
	}
	t.Status = TenantActive
	t.touch()
	return nil
}

func (t *Tenant) Suspend() {
	t.Status = TenantSuspended
	t.touch()
}

func (t *Tenant) ExpireTrial() error {
	if t.Status != TenantTrial {
		return apperr.New(apperr.InvalidOperation, "NOT_TRIAL", "only trial tenants can expire")
	}
	t.Status = TenantExpired
	t.touch()
	return nil
}

func (t *Tenant) UpgradeFromTrial() error {
	if t.Status != TenantTrial {
		return apperr.New(apperr.InvalidOperation, "NOT_TRIAL", "only trial tenants can be upgraded")
	}
	t.Status = TenantActive
	t.touch()
	return nil
}

func (t *Tenant) UpdateLimits(maxUsers, maxCallsPerMonth, maxStorageMB int) error {
	if maxUsers < 1 {
		return apperr.New(apperr.BusinessRule, "INVALID_LIMIT", "max users must be at least 1")
	}
	if maxCallsPerMonth < 0 || maxStorageMB < 0 {
		return apperr.New(apperr.BusinessRule, "INVALID_LIMIT", "limits cannot be negative")
	}
	t.MaxUsers = maxUsers
	t.MaxCallsPerMonth = maxCallsPerMonth
	t.MaxStorageMB = maxStorageMB
	t.touch()
	return nil
}

func (t *Tenant) EnableFeature(name string) {
	if t.Features == nil {
		t.Features = map[string]interface{}{}
	}
	t.Features[name] = true
	t.touch()
}

func (t *Tenant) DisableFeature(name string) {
	if t.Features == nil {
		t.Features = map[string]interface{}{}
	}
	t.Features[name] = false
	t.touch()
}

// HasFeature is true for a boolean true feature or a non-empty list feature.
func (t *Tenant) HasFeature(name string) bool {
	switch v := t.Features[name].(type) {
	case bool:
		return v
	case []interface{}:
		return len(v) > 0
	case []string:
		return len(v) > 0
	}
	return false
}

func (t *Tenant) Setting(key string) (interface{}, bool) {
	v, ok := t.Settings[key]
	return v, ok
}

// SettingString returns a string setting or def when missing or not a string.
func (t *Tenant) SettingString(key, def string) string {
	if s, ok := t.Settings[key].(string); ok && s != "" {
		return s
	}
	return def
}

func (t *Tenant) SetSetting(key string, value interface{}) {
	if t.Settings == nil {
		t.Settings = map[string]interface{}{}
	}
	t.Settings[key] = value
	t.touch()
}

// IsOperational is true for active tenants and tenants still in their trial.
func (t *Tenant) IsOperational() bool {
	return t.Status == TenantActive || t.Status == TenantTrial
}

func (t *Tenant) CanCreateUser(currentUsers int) bool {
	return t.IsOperational() && currentUsers < t.MaxUsers
}

func (t *Tenant) CanProcessCall(callsThisMonth int) bool {
	return t.IsOperational() && callsThisMonth < t.MaxCallsPerMonth
}

// ProviderPreference returns the tenant's preferred provider order for kind ("stt", "llm", "tts", "embedding").
func (t *Tenant) ProviderPreference(kind string) []string {
	var raw interface{}
	switch kind {
	case "stt":
		raw = t.Settings[SettingProviderSTT]
	case "llm":
		raw = t.Settings[SettingProviderLLM]
		if raw == nil {
			raw = t.Features[FeatureLLMProviders]
		}
	case "tts":
		raw = t.Settings[SettingProviderTTS]
	case "embedding":
		raw = t.Settings[SettingProviderEmbeddings]
	}
	return toStrings(raw)
}

func toStrings(raw interface{}) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
