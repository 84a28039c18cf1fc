package handler

import (
	"context"
	"net/http"
	"strings"

	"ai-hotline/internal/apierrors"
	"ai-hotline/internal/auth/processor"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	ctxUserID   = "User-ID"
	ctxTenantID = "Tenant-ID"
	ctxRole     = "Role"
	ctxClaims   = "Claims"
)

// AuthService is implemented by *processor.AuthProcessor.
type AuthService interface {
	RegisterTenantWithAdmin(ctx context.Context, tenantName, adminEmail, username, password string) (processor.AuthResult, error)
	RegisterTenantUser(ctx context.Context, tenantID uuid.UUID, email, username, password, role string) (processor.AuthResult, error)
	Authenticate(ctx context.Context, email, password string) (processor.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (processor.TokenPair, error)
	VerifyAccessToken(ctx context.Context, token string) (processor.Claims, error)
	Logout(ctx context.Context, access processor.Claims, refreshToken string)
	Me(ctx context.Context, userID uuid.UUID) (processor.UserView, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
	ResetPassword(ctx context.Context, actorID, userID uuid.UUID, next string) error
}

type Handler struct {
	authProcessor AuthService
	logger        *observability.Logger
}

func New(authProcessor AuthService, logger *observability.Logger) Handler {
	return Handler{authProcessor: authProcessor, logger: logger}
}

type RegisterTenantAdminRequest struct {
	TenantName string `json:"tenant_name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required,min=8"`
}

type RegisterTenantUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"omitempty,oneof=tenant_admin operator viewer"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

type ResetPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// HandleRegisterTenantAdmin handles POST /api/v1/auth/register-tenant-admin
func (h *Handler) HandleRegisterTenantAdmin(c *gin.Context) {
	var req RegisterTenantAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	result, err := h.authProcessor.RegisterTenantWithAdmin(c.Request.Context(), req.TenantName, req.Email, req.Username, req.Password)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// HandleRegisterTenantUser handles POST /api/v1/auth/register-tenant-user
func (h *Handler) HandleRegisterTenantUser(c *gin.Context) {
	tenantID, ok := TenantID(c)
	if !ok {
		return
	}
	var req RegisterTenantUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	result, err := h.authProcessor.RegisterTenantUser(c.Request.Context(), tenantID, req.Email, req.Username, req.Password, req.Role)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// HandleLogin handles POST /api/v1/auth/login
func (h *Handler) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	result, err := h.authProcessor.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleRefresh handles POST /api/v1/auth/refresh
func (h *Handler) HandleRefresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	tokens, err := h.authProcessor.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// HandleMe handles GET /api/v1/auth/me
func (h *Handler) HandleMe(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		return
	}
	user, err := h.authProcessor.Me(c.Request.Context(), userID)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// HandleChangePassword handles POST /api/v1/auth/change-password
func (h *Handler) HandleChangePassword(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	if err := h.authProcessor.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleResetPassword handles POST /api/v1/auth/users/:id/reset-password
func (h *Handler) HandleResetPassword(c *gin.Context) {
	actorID, ok := UserID(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Invalid user ID format"))
		return
	}
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	if err := h.authProcessor.ResetPassword(c.Request.Context(), actorID, userID, req.NewPassword); err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleLogout handles POST /api/v1/auth/logout
func (h *Handler) HandleLogout(c *gin.Context) {
	claims, ok := c.Get(ctxClaims)
	if !ok {
		apierrors.RespondWithError(c, apierrors.Unauthorized("Authentication required"))
		return
	}
	var req LogoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.RespondWithValidationError(c, err)
			return
		}
	}
	h.authProcessor.Logout(c.Request.Context(), claims.(processor.Claims), req.RefreshToken)
	c.Status(http.StatusNoContent)
}

// HandleJWTMiddleware validates the bearer token and puts the caller's identity on the gin context.
func (h *Handler) HandleJWTMiddleware(c *gin.Context) {
	ctx := c.Request.Context()
	tokenHeader := c.GetHeader("Authorization")

	if tokenHeader == "" || !strings.HasPrefix(tokenHeader, "Bearer ") {
		apierrors.RespondWithError(c, apierrors.Unauthorized("Authorization token is missing or invalid"))
		c.Abort()
		return
	}

	claims, err := h.authProcessor.VerifyAccessToken(ctx, strings.TrimPrefix(tokenHeader, "Bearer "))
	if err != nil {
		apierrors.RespondWithError(c, err)
		c.Abort()
		return
	}

	c.Set(ctxUserID, claims.Subject)
	c.Set(ctxTenantID, claims.TenantID)
	c.Set(ctxRole, string(claims.Role()))
	c.Set(ctxClaims, claims)

	c.Request = c.Request.WithContext(observability.WithFields(ctx,
		observability.Field{Key: "user_id", Value: claims.Subject},
		observability.Field{Key: "tenant_id", Value: claims.TenantID},
	))
	c.Next()
}

// RequirePermission aborts with 403 unless the caller's role grants perm.
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := identity.Role(c.GetString(ctxRole))
		if !identity.RoleHasPermission(role, perm) {
			apierrors.RespondWithError(c, apierrors.Forbidden("You do not have permission to perform this action"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// TenantID returns the authenticated tenant. On failure the response has already been written.
func TenantID(c *gin.Context) (uuid.UUID, bool) {
	return idFromContext(c, ctxTenantID)
}

// UserID returns the authenticated user. On failure the response has already been written.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	return idFromContext(c, ctxUserID)
}

func idFromContext(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(key))
	if err != nil {
		apierrors.RespondWithError(c, apierrors.Unauthorized("Authentication required"))
		return uuid.Nil, false
	}
	return id, true
}
