package handler

import (
	"context"
	"net/http"

	"ai-hotline/internal/apierrors"
	authHandler "ai-hotline/internal/auth/handler"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Tenants is the tenant administration surface. *processor.TenantProcessor satisfies it.
type Tenants interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error)
	UpdateSettings(ctx context.Context, tenantID uuid.UUID, settings map[string]interface{}) (*identity.Tenant, error)
	SetFeature(ctx context.Context, tenantID uuid.UUID, feature string, enabled bool) (*identity.Tenant, error)
	SetProviderCredential(ctx context.Context, tenantID uuid.UUID, provider, apiKey string) error
	UnlockUser(ctx context.Context, tenantID, userID uuid.UUID) error
}

type Handler struct {
	processor Tenants
	logger    *observability.Logger
}

func New(processor Tenants, logger *observability.Logger) Handler {
	return Handler{processor: processor, logger: logger}
}

type UpdateSettingsRequest struct {
	Settings map[string]interface{} `json:"settings" binding:"required"`
}

type SetFeatureRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type SetCredentialRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// HandleGetTenant handles GET /api/v1/tenants/me
func (h *Handler) HandleGetTenant(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	tenant, err := h.processor.GetTenant(c.Request.Context(), tenantID)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// HandleUpdateSettings handles PATCH /api/v1/tenants/me/settings
func (h *Handler) HandleUpdateSettings(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	tenant, err := h.processor.UpdateSettings(c.Request.Context(), tenantID, req.Settings)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// HandleSetFeature handles PUT /api/v1/tenants/me/features/:feature
func (h *Handler) HandleSetFeature(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	var req SetFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	tenant, err := h.processor.SetFeature(c.Request.Context(), tenantID, c.Param("feature"), *req.Enabled)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// HandleSetProviderCredential handles PUT /api/v1/tenants/me/providers/:provider/credentials
func (h *Handler) HandleSetProviderCredential(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	var req SetCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	provider := c.Param("provider")
	if err := h.processor.SetProviderCredential(c.Request.Context(), tenantID, provider, req.APIKey); err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider, "configured": true})
}

// HandleUnlockUser handles POST /api/v1/tenants/me/users/:id/unlock
func (h *Handler) HandleUnlockUser(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Invalid user ID"))
		return
	}
	if err := h.processor.UnlockUser(c.Request.Context(), tenantID, userID); err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "unlocked": true})
}
