package processor

import (
	"context"
	"testing"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/secrets"
	"ai-hotline/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	available bool
	tenants   map[uuid.UUID]store.Tenant
	users     map[uuid.UUID]store.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{available: true, tenants: map[uuid.UUID]store.Tenant{}, users: map[uuid.UUID]store.User{}}
}

func (f *fakeStore) Available() bool { return f.available }

func (f *fakeStore) GetTenantByID(ctx context.Context, id uuid.UUID) (store.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return store.Tenant{}, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) UpdateTenant(ctx context.Context, tenant store.Tenant) error {
	f.tenants[tenant.ID] = tenant
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, user store.User) error {
	f.users[user.ID] = user
	return nil
}

type catalog map[providers.Kind][]string

func (c catalog) Has(kind providers.Kind, name string) bool {
	for _, n := range c[kind] {
		if n == name {
			return true
		}
	}
	return false
}

func setup(t *testing.T) (*TenantProcessor, *fakeStore, *secrets.Cipher, uuid.UUID) {
	t.Helper()
	fs := newFakeStore()
	tenant := identity.NewTenant("Acme Support")
	fs.tenants[tenant.ID] = store.TenantFromIdentity(tenant)

	cipher, err := secrets.New("test-secret-key")
	require.NoError(t, err)
	p := New(fs, cipher, catalog{
		providers.KindLLM: {"openai", "anthropic"},
		providers.KindSTT: {"munsit"},
	}, observability.NewNopLogger())
	return p, fs, cipher, tenant.ID
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	p, fs, _, tenantID := setup(t)

	tenant, err := p.Resolve(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, identity.TenantTrial, tenant.Status)

	_, err = p.Resolve(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.TenantNotFound)

	fs.available = false
	tenant, err = p.Resolve(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, tenant.IsOperational())
	assert.True(t, tenant.HasFeature(identity.FeatureKnowledgeManagement))

	_, err = p.GetTenant(ctx, tenantID)
	assert.ErrorIs(t, err, apperr.Database)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	p, fs, _, tenantID := setup(t)

	tenant, err := p.UpdateSettings(ctx, tenantID, map[string]interface{}{
		identity.SettingPersona:     "You are Nour, a support agent.",
		identity.SettingProviderLLM: []interface{}{"anthropic", "openai"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "openai"}, tenant.ProviderPreference("llm"))
	assert.Equal(t, "You are Nour, a support agent.", fs.tenants[tenantID].Settings[identity.SettingPersona])

	tests := []struct {
		name     string
		settings map[string]interface{}
		code     string
	}{
		{"unknown key", map[string]interface{}{"colour": "blue"}, "UNKNOWN_SETTING"},
		{"unregistered provider", map[string]interface{}{identity.SettingProviderSTT: []interface{}{"whisper-local"}}, "UNKNOWN_PROVIDER"},
		{"not a list", map[string]interface{}{identity.SettingProviderTTS: 42}, "INVALID_SETTING"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.UpdateSettings(ctx, tenantID, tt.settings)
			require.ErrorIs(t, err, apperr.Validation)
			appErr, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestSetFeature(t *testing.T) {
	ctx := context.Background()
	p, _, _, tenantID := setup(t)

	tenant, err := p.SetFeature(ctx, tenantID, identity.FeatureAutomation, true)
	require.NoError(t, err)
	assert.True(t, tenant.HasFeature(identity.FeatureAutomation))

	_, err = p.SetFeature(ctx, tenantID, "teleportation", true)
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestSetProviderCredential(t *testing.T) {
	ctx := context.Background()
	p, fs, cipher, tenantID := setup(t)

	require.NoError(t, p.SetProviderCredential(ctx, tenantID, "elevenlabs", "xi-secret"))
	require.NoError(t, p.SetProviderCredential(ctx, tenantID, "openai", "sk-secret"))

	creds := fs.tenants[tenantID].Settings[identity.SettingProviderKeys].(map[string]interface{})
	sealed := creds["elevenlabs"].(string)
	assert.NotContains(t, sealed, "xi-secret")
	plain, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "xi-secret", plain)

	tenant, err := p.GetTenant(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, []string{"elevenlabs", "openai"}, tenant.Settings[identity.SettingProviderKeys])

	assert.ErrorIs(t, p.SetProviderCredential(ctx, tenantID, "acme-ai", "k"), ErrUnknownProvider)
	assert.ErrorIs(t, p.SetProviderCredential(ctx, tenantID, "openai", ""), apperr.Validation)
}

func TestUnlockUser(t *testing.T) {
	ctx := context.Background()
	p, fs, _, tenantID := setup(t)

	email, _ := identity.NewEmail("ops@acme.test")
	user := identity.NewUser(tenantID, email, "ops", "hash", identity.RoleOperator)
	user.Activate()
	user.RecordFailedLogin(1, time.Hour)
	require.True(t, user.IsLocked(time.Now()))
	fs.users[user.ID] = store.UserFromIdentity(user)

	require.NoError(t, p.UnlockUser(ctx, tenantID, user.ID))
	assert.False(t, fs.users[user.ID].ToIdentity().IsLocked(time.Now()))
	assert.Zero(t, fs.users[user.ID].FailedLoginAttempts)

	assert.ErrorIs(t, p.UnlockUser(ctx, uuid.New(), user.ID), ErrUserNotFound)
	assert.ErrorIs(t, p.UnlockUser(ctx, tenantID, uuid.New()), ErrUserNotFound)
}
