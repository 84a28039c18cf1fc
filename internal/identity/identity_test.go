package identity

import (
	"testing"
	"time"

	"ai-hotline/internal/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmail(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Email
		wantErr bool
	}{
		{"normalises", "  John.Doe@Example.COM ", "john.doe@example.com", false},
		{"plus addressing", "a+b@x.io", "a+b@x.io", false},
		{"missing at", "nope.example.com", "", true},
		{"empty", "   ", "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEmail(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperr.Validation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	e, _ := NewEmail("ops@hotline.eg")
	assert.Equal(t, "hotline.eg", e.Domain())
	assert.Equal(t, "ops", e.LocalPart())
}

func TestNewPassword(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"three classes", "Password1", false},
		{"four classes", "Pass word1!", false},
		{"too short", "Pa1!", true},
		{"two classes", "password1", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPassword(tt.raw)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}

	p, err := NewPassword("Str0ng!Passphrase")
	require.NoError(t, err)
	assert.Equal(t, 5, p.StrengthScore())
}

func TestNewPhoneNumber(t *testing.T) {
	p, err := NewPhoneNumber("+20 (100) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, PhoneNumber("+201001234567"), p)
	assert.Equal(t, "+201001234567", p.E164())

	p, err = NewPhoneNumber("201001234567")
	require.NoError(t, err)
	assert.Equal(t, "+201001234567", p.E164())

	_, err = NewPhoneNumber("0123")
	assert.Error(t, err)
}

func TestNewUsernameAndTenantName(t *testing.T) {
	_, err := NewUsername("ab")
	assert.Error(t, err)
	u, err := NewUsername("agent_01")
	require.NoError(t, err)
	assert.Equal(t, "agent_01", u.String())

	n, err := NewTenantName("  Cairo Telecom & Co. ")
	require.NoError(t, err)
	assert.Equal(t, TenantName("Cairo Telecom & Co."), n)
	_, err = NewTenantName("x")
	assert.Error(t, err)
	_, err = NewTenantName("bad<name>")
	assert.Error(t, err)
}

func TestTenantLifecycle(t *testing.T) {
	tenant := NewTenant("Acme")
	assert.Equal(t, TenantTrial, tenant.Status)
	assert.True(t, tenant.HasFeature(FeatureKnowledgeManagement))
	assert.False(t, tenant.HasFeature(FeatureAutomation))
	assert.True(t, tenant.HasFeature(FeatureLLMProviders))
	assert.Equal(t, "ar-EG", tenant.SettingString(SettingDefaultLanguage, ""))

	require.NoError(t, tenant.UpgradeFromTrial())
	assert.True(t, tenant.IsActive())
	assert.Error(t, tenant.ExpireTrial())

	tenant.Suspend()
	assert.False(t, tenant.CanProcessCall(0))

	expired := NewTenant("Old")
	require.NoError(t, expired.ExpireTrial())
	err := expired.Activate()
	assert.ErrorIs(t, err, apperr.BusinessRule)
}

func TestTenantLimits(t *testing.T) {
	tenant := NewTenant("Acme")
	assert.ErrorIs(t, tenant.UpdateLimits(0, 10, 10), apperr.BusinessRule)
	assert.ErrorIs(t, tenant.UpdateLimits(1, -1, 10), apperr.BusinessRule)
	require.NoError(t, tenant.UpdateLimits(2, 1, 10))

	assert.True(t, tenant.CanCreateUser(1))
	assert.False(t, tenant.CanCreateUser(2))
	assert.True(t, tenant.CanProcessCall(0))
	assert.False(t, tenant.CanProcessCall(1))
}

func TestTenantProviderPreference(t *testing.T) {
	tenant := NewTenant("Acme")
	assert.Equal(t, []string{"openai"}, tenant.ProviderPreference("llm"))
	assert.Empty(t, tenant.ProviderPreference("stt"))

	tenant.SetSetting(SettingProviderSTT, []interface{}{"munsit", "openai"})
	assert.Equal(t, []string{"munsit", "openai"}, tenant.ProviderPreference("stt"))

	tenant.SetSetting(SettingProviderLLM, "anthropic")
	assert.Equal(t, []string{"anthropic"}, tenant.ProviderPreference("llm"))
}

func TestUserLoginLockout(t *testing.T) {
	u := NewUser(uuid.New(), "a@b.co", "agent", "hash", RoleOperator)
	for i := 0; i < 4; i++ {
		u.RecordFailedLogin(5, 30*time.Minute)
	}
	assert.False(t, u.IsLocked(time.Now()))
	u.RecordFailedLogin(5, 30*time.Minute)
	assert.True(t, u.IsLocked(time.Now()))
	assert.False(t, u.IsLocked(time.Now().Add(31*time.Minute)))

	u.RecordSuccessfulLogin()
	assert.Zero(t, u.FailedLoginAttempts)
	assert.False(t, u.IsLocked(time.Now()))
	assert.NotNil(t, u.LastLoginAt)
}

func TestUserStatusRules(t *testing.T) {
	u := NewUser(uuid.New(), "a@b.co", "agent", "hash", RoleViewer)
	assert.Equal(t, UserPendingVerification, u.Status)
	u.VerifyEmail()
	assert.True(t, u.IsActive())

	u.Suspend()
	assert.Error(t, u.ChangeRole(RoleOperator))
	assert.Error(t, u.ChangePasswordHash("x"))
	assert.Error(t, u.ChangeEmail("c@d.co"))
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		role Role
		perm string
		want bool
	}{
		{RoleSuperAdmin, PermTenantManage, true},
		{RoleTenantAdmin, PermUsersManage, true},
		{RoleTenantAdmin, "users.delete", true},
		{RoleTenantAdmin, PermKnowledgeManage, true},
		{RoleOperator, PermCallsCreate, true},
		{RoleOperator, PermKnowledgeManage, false},
		{RoleViewer, PermCallsRead, true},
		{RoleViewer, PermCallsCreate, false},
		{RoleViewer, PermAutomationExecute, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.role)+"/"+tt.perm, func(t *testing.T) {
			assert.Equal(t, tt.want, RoleHasPermission(tt.role, tt.perm))
		})
	}

	assert.Greater(t, RoleSuperAdmin.Level(), RoleTenantAdmin.Level())
	assert.Equal(t, 0, RoleViewer.Level())

	tenantA, tenantB := uuid.New(), uuid.New()
	admin := NewUser(tenantA, "a@b.co", "admin", "h", RoleTenantAdmin)
	assert.True(t, admin.CanAccessTenant(tenantA))
	assert.False(t, admin.CanAccessTenant(tenantB))
	admin.Role = RoleSuperAdmin
	assert.True(t, admin.CanAccessTenant(tenantB))
}
