package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/store"

	"github.com/google/uuid"
)

// TenantStore defines the database operations required by TenantProcessor
type TenantStore interface {
	Available() bool
	GetTenantByID(ctx context.Context, id uuid.UUID) (store.Tenant, error)
	UpdateTenant(ctx context.Context, tenant store.Tenant) error
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
	UpdateUser(ctx context.Context, user store.User) error
}

// Encrypter seals provider credentials before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// ProviderCatalog reports which providers are registered.
type ProviderCatalog interface {
	Has(kind providers.Kind, name string) bool
}

var (
	ErrTenantNotFound  = apperr.New(apperr.TenantNotFound, "TENANT_NOT_FOUND", "tenant not found")
	ErrUserNotFound    = apperr.New(apperr.NotFound, "USER_NOT_FOUND", "user not found")
	ErrStoreRequired   = apperr.New(apperr.Database, "DATABASE_UNAVAILABLE", "tenant changes need the database")
	ErrUnknownFeature  = apperr.New(apperr.Validation, "UNKNOWN_FEATURE", "unknown feature")
	ErrUnknownProvider = apperr.New(apperr.Validation, "UNKNOWN_PROVIDER", "unknown provider")
)

// CredentialVendors are the vendors a tenant may bring its own API key for.
var CredentialVendors = map[string]bool{
	"openai": true, "anthropic": true, "mistral": true, "gemini": true, "munsit": true, "elevenlabs": true,
}

var providerSettings = map[string]providers.Kind{
	identity.SettingProviderSTT:        providers.KindSTT,
	identity.SettingProviderLLM:        providers.KindLLM,
	identity.SettingProviderTTS:        providers.KindTTS,
	identity.SettingProviderEmbeddings: providers.KindEmbedding,
}

type TenantProcessor struct {
	store     TenantStore
	cipher    Encrypter
	providers ProviderCatalog
	logger    *observability.Logger
}

func New(store TenantStore, cipher Encrypter, catalog ProviderCatalog, logger *observability.Logger) *TenantProcessor {
	return &TenantProcessor{store: store, cipher: cipher, providers: catalog, logger: logger}
}

// Resolve loads a tenant for the call pipeline. With the database down it returns an active
// tenant carrying default features and settings so calls keep working.
func (p *TenantProcessor) Resolve(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	if !p.store.Available() {
		return degradedTenant(tenantID), nil
	}
	rec, err := p.store.GetTenantByID(ctx, tenantID)
	switch {
	case err == nil:
		return rec.ToIdentity(), nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrTenantNotFound
	case errors.Is(err, store.ErrUnavailable):
		return degradedTenant(tenantID), nil
	}
	p.logger.Error(ctx, "failed to load tenant", err)
	return nil, apperr.Wrap(apperr.Database, "TENANT_LOOKUP_FAILED", "failed to load tenant", err)
}

func degradedTenant(id uuid.UUID) *identity.Tenant {
	t := identity.NewTenant("")
	t.ID = id
	t.Status = identity.TenantActive
	return t
}

// GetTenant returns the tenant with provider credentials redacted to vendor names.
func (p *TenantProcessor) GetTenant(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	t, err := p.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return redact(t), nil
}

func (p *TenantProcessor) load(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	if !p.store.Available() {
		return nil, ErrStoreRequired
	}
	rec, err := p.store.GetTenantByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		p.logger.Error(ctx, "failed to load tenant", err)
		return nil, apperr.Wrap(apperr.Database, "TENANT_LOOKUP_FAILED", "failed to load tenant", err)
	}
	return rec.ToIdentity(), nil
}

func (p *TenantProcessor) save(ctx context.Context, t *identity.Tenant) error {
	if err := p.store.UpdateTenant(ctx, store.TenantFromIdentity(t)); err != nil {
		p.logger.Error(ctx, "failed to update tenant", err)
		return apperr.Wrap(apperr.Database, "TENANT_UPDATE_FAILED", "failed to update tenant", err)
	}
	return nil
}

// UpdateSettings merges known settings into the tenant. Provider order settings must only name
// registered providers.
func (p *TenantProcessor) UpdateSettings(ctx context.Context, tenantID uuid.UUID, settings map[string]interface{}) (*identity.Tenant, error) {
	for key, value := range settings {
		if !identity.KnownSettings[key] {
			return nil, apperr.Validationf("UNKNOWN_SETTING", "unknown setting %q", key).WithDetails("setting", key)
		}
		kind, isOrder := providerSettings[key]
		if !isOrder {
			continue
		}
		names, ok := stringList(value)
		if !ok {
			return nil, apperr.Validationf("INVALID_SETTING", "%s must be a list of provider names", key)
		}
		for _, name := range names {
			if !p.providers.Has(kind, name) {
				return nil, apperr.Validationf("UNKNOWN_PROVIDER", "%s provider %q is not configured", kind, name).
					WithDetails("provider", name)
			}
		}
	}

	t, err := p.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for key, value := range settings {
		t.SetSetting(key, value)
	}
	if err := p.save(ctx, t); err != nil {
		return nil, err
	}
	p.logger.Info(ctx, "tenant settings updated", observability.Field{Key: "tenant_id", Value: tenantID.String()})
	return redact(t), nil
}

func (p *TenantProcessor) SetFeature(ctx context.Context, tenantID uuid.UUID, feature string, enabled bool) (*identity.Tenant, error) {
	if _, ok := identity.DefaultFeatures()[feature]; !ok || feature == identity.FeatureLLMProviders {
		return nil, ErrUnknownFeature
	}
	t, err := p.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if enabled {
		t.EnableFeature(feature)
	} else {
		t.DisableFeature(feature)
	}
	if err := p.save(ctx, t); err != nil {
		return nil, err
	}
	return redact(t), nil
}

// SetProviderCredential stores an encrypted vendor API key for the tenant.
func (p *TenantProcessor) SetProviderCredential(ctx context.Context, tenantID uuid.UUID, provider, apiKey string) error {
	if !CredentialVendors[provider] {
		return ErrUnknownProvider
	}
	if apiKey == "" {
		return apperr.Validationf("EMPTY_API_KEY", "api key is required")
	}
	sealed, err := p.cipher.Encrypt(apiKey)
	if err != nil {
		p.logger.Error(ctx, "failed to encrypt provider credential", err)
		return fmt.Errorf("failed to encrypt provider credential: %w", err)
	}

	t, err := p.load(ctx, tenantID)
	if err != nil {
		return err
	}
	creds := map[string]interface{}{}
	if existing, ok := t.Settings[identity.SettingProviderKeys].(map[string]interface{}); ok {
		for k, v := range existing {
			creds[k] = v
		}
	}
	creds[provider] = sealed
	t.SetSetting(identity.SettingProviderKeys, creds)
	return p.save(ctx, t)
}

// UnlockUser clears a login lockout for a user of the tenant.
func (p *TenantProcessor) UnlockUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	if !p.store.Available() {
		return ErrStoreRequired
	}
	rec, err := p.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.TenantID != tenantID) {
		return ErrUserNotFound
	}
	if err != nil {
		p.logger.Error(ctx, "failed to load user", err)
		return apperr.Wrap(apperr.Database, "USER_LOOKUP_FAILED", "failed to load user", err)
	}
	user := rec.ToIdentity()
	user.Unlock()
	if err := p.store.UpdateUser(ctx, store.UserFromIdentity(user)); err != nil {
		p.logger.Error(ctx, "failed to update user", err)
		return apperr.Wrap(apperr.Database, "USER_UPDATE_FAILED", "failed to update user", err)
	}
	return nil
}

// redact replaces sealed credentials with the list of vendors that have one.
func redact(t *identity.Tenant) *identity.Tenant {
	creds, ok := t.Settings[identity.SettingProviderKeys].(map[string]interface{})
	if !ok {
		return t
	}
	out := *t
	out.Settings = make(map[string]interface{}, len(t.Settings))
	for k, v := range t.Settings {
		out.Settings[k] = v
	}
	vendors := make([]string, 0, len(creds))
	for name := range creds {
		vendors = append(vendors, name)
	}
	sort.Strings(vendors)
	out.Settings[identity.SettingProviderKeys] = vendors
	return &out
}

func stringList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
