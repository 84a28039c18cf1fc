package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/tenants/processor"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTenants struct {
	mock.Mock
}

func (m *mockTenants) GetTenant(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error) {
	args := m.Called(ctx, tenantID)
	t, _ := args.Get(0).(*identity.Tenant)
	return t, args.Error(1)
}

func (m *mockTenants) UpdateSettings(ctx context.Context, tenantID uuid.UUID, settings map[string]interface{}) (*identity.Tenant, error) {
	args := m.Called(ctx, tenantID, settings)
	t, _ := args.Get(0).(*identity.Tenant)
	return t, args.Error(1)
}

func (m *mockTenants) SetFeature(ctx context.Context, tenantID uuid.UUID, feature string, enabled bool) (*identity.Tenant, error) {
	args := m.Called(ctx, tenantID, feature, enabled)
	t, _ := args.Get(0).(*identity.Tenant)
	return t, args.Error(1)
}

func (m *mockTenants) SetProviderCredential(ctx context.Context, tenantID uuid.UUID, provider, apiKey string) error {
	return m.Called(ctx, tenantID, provider, apiKey).Error(0)
}

func (m *mockTenants) UnlockUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	return m.Called(ctx, tenantID, userID).Error(0)
}

func setupRouter(m *mockTenants, tenantID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(m, observability.NewNopLogger())
	r := gin.New()
	g := r.Group("/api/v1/tenants/me", func(c *gin.Context) {
		if tenantID != uuid.Nil {
			c.Set("Tenant-ID", tenantID.String())
		}
		c.Next()
	})
	g.GET("", h.HandleGetTenant)
	g.PATCH("/settings", h.HandleUpdateSettings)
	g.PUT("/features/:feature", h.HandleSetFeature)
	g.PUT("/providers/:provider/credentials", h.HandleSetProviderCredential)
	g.POST("/users/:id/unlock", h.HandleUnlockUser)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleGetTenant(t *testing.T) {
	tenant := identity.NewTenant("Acme Support")
	m := &mockTenants{}
	m.On("GetTenant", mock.Anything, tenant.ID).Return(tenant, nil)

	w := do(setupRouter(m, tenant.ID), http.MethodGet, "/api/v1/tenants/me", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Acme Support", body["name"])
	m.AssertExpectations(t)
}

func TestHandleGetTenant_Unauthenticated(t *testing.T) {
	m := &mockTenants{}
	w := do(setupRouter(m, uuid.Nil), http.MethodGet, "/api/v1/tenants/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	m.AssertNotCalled(t, "GetTenant", mock.Anything, mock.Anything)
}

func TestHandleUpdateSettings(t *testing.T) {
	tenantID := uuid.New()

	tests := []struct {
		name       string
		body       string
		setup      func(m *mockTenants)
		wantStatus int
	}{
		{
			name: "accepted",
			body: `{"settings":{"default_language":"en"}}`,
			setup: func(m *mockTenants) {
				m.On("UpdateSettings", mock.Anything, tenantID, map[string]interface{}{"default_language": "en"}).
					Return(identity.NewTenant("Acme Support"), nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing settings",
			body:       `{}`,
			setup:      func(m *mockTenants) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "database down",
			body: `{"settings":{"default_language":"en"}}`,
			setup: func(m *mockTenants) {
				m.On("UpdateSettings", mock.Anything, tenantID, mock.Anything).Return(nil, processor.ErrStoreRequired)
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := &mockTenants{}
			tt.setup(m)
			w := do(setupRouter(m, tenantID), http.MethodPatch, "/api/v1/tenants/me/settings", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			m.AssertExpectations(t)
		})
	}
}

func TestHandleSetFeature(t *testing.T) {
	tenantID := uuid.New()
	m := &mockTenants{}
	m.On("SetFeature", mock.Anything, tenantID, "knowledge_base", false).Return(identity.NewTenant("Acme Support"), nil)
	m.On("SetFeature", mock.Anything, tenantID, "teleport", true).Return(nil, processor.ErrUnknownFeature)
	r := setupRouter(m, tenantID)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPut, "/api/v1/tenants/me/features/knowledge_base", `{"enabled":false}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/api/v1/tenants/me/features/teleport", `{"enabled":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/api/v1/tenants/me/features/knowledge_base", `{}`).Code)
	m.AssertExpectations(t)
}

func TestHandleSetProviderCredential(t *testing.T) {
	tenantID := uuid.New()
	m := &mockTenants{}
	m.On("SetProviderCredential", mock.Anything, tenantID, "openai", "sk-test").Return(nil)

	w := do(setupRouter(m, tenantID), http.MethodPut, "/api/v1/tenants/me/providers/openai/credentials", `{"api_key":"sk-test"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-test")
	assert.Contains(t, w.Body.String(), `"configured":true`)
	m.AssertExpectations(t)
}

func TestHandleUnlockUser(t *testing.T) {
	tenantID, userID := uuid.New(), uuid.New()
	m := &mockTenants{}
	m.On("UnlockUser", mock.Anything, tenantID, userID).Return(nil)
	r := setupRouter(m, tenantID)

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/tenants/me/users/"+userID.String()+"/unlock", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/tenants/me/users/not-a-uuid/unlock", "").Code)

	m.On("UnlockUser", mock.Anything, tenantID, mock.Anything).Return(processor.ErrUserNotFound)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/v1/tenants/me/users/"+uuid.NewString()+"/unlock", "").Code)
}
