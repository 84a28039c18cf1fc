package api

import (
	authHandler "ai-hotline/internal/auth/handler"
	automationHandler "ai-hotline/internal/automation/handler"
	callHandler "ai-hotline/internal/calls/handler"
	healthHandler "ai-hotline/internal/health/handler"
	"ai-hotline/internal/identity"
	knowledgeHandler "ai-hotline/internal/knowledge/handler"
	"ai-hotline/internal/ratelimit"
	tenantHandler "ai-hotline/internal/tenants/handler"
	voiceCallHandler "ai-hotline/internal/voicecall/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router            *gin.RouterGroup
	authHandler       authHandler.Handler
	callHandler       callHandler.Handler
	knowledgeHandler  knowledgeHandler.Handler
	automationHandler automationHandler.Handler
	tenantHandler     tenantHandler.Handler
	healthHandler     healthHandler.Handler
	voiceCallHandler  voiceCallHandler.Handler
	rateLimiter       *ratelimit.Service
	rateLimitRPM      int
}

type Handlers struct {
	Auth       authHandler.Handler
	Calls      callHandler.Handler
	Knowledge  knowledgeHandler.Handler
	Automation automationHandler.Handler
	Tenants    tenantHandler.Handler
	Health     healthHandler.Handler
	VoiceCall  voiceCallHandler.Handler
}

func New(router *gin.RouterGroup, handlers Handlers, rateLimiter *ratelimit.Service, rateLimitRPM int) API {
	return API{
		router:            router,
		authHandler:       handlers.Auth,
		callHandler:       handlers.Calls,
		knowledgeHandler:  handlers.Knowledge,
		automationHandler: handlers.Automation,
		tenantHandler:     handlers.Tenants,
		healthHandler:     handlers.Health,
		voiceCallHandler:  handlers.VoiceCall,
		rateLimiter:       rateLimiter,
		rateLimitRPM:      rateLimitRPM,
	}
}

func (a *API) RegisterRoutes() {
	a.healthHandler.RegisterRoutes(a.router)

	v1 := a.router.Group("/api/v1")

	// Twilio calls these; they are authenticated by request signature, not bearer tokens.
	telephony := v1.Group("/telephony/:tenant_id")
	{
		telephony.POST("/voice", a.voiceCallHandler.HandleVoice)
		telephony.GET("/stream", a.voiceCallHandler.HandleStream)
	}

	limited := v1.Group("", a.rateLimiter.Middleware(a.rateLimitRPM))

	auth := limited.Group("/auth")
	{
		auth.POST("/register-tenant-admin", a.authHandler.HandleRegisterTenantAdmin)
		auth.POST("/login", a.authHandler.HandleLogin)
		auth.POST("/refresh", a.authHandler.HandleRefresh)
	}

	// The JWT middleware runs before the limiter so authenticated traffic is keyed per tenant.
	protected := v1.Group("", a.authHandler.HandleJWTMiddleware, a.rateLimiter.Middleware(a.rateLimitRPM))
	{
		me := protected.Group("/auth")
		me.GET("/me", a.authHandler.HandleMe)
		me.POST("/change-password", a.authHandler.HandleChangePassword)
		me.POST("/logout", a.authHandler.HandleLogout)
		me.POST("/register-tenant-user", authHandler.RequirePermission(identity.PermUsersManage), a.authHandler.HandleRegisterTenantUser)
		me.POST("/users/:id/reset-password", authHandler.RequirePermission(identity.PermUsersManage), a.authHandler.HandleResetPassword)
	}

	calls := protected.Group("/calls")
	{
		read := authHandler.RequirePermission(identity.PermCallsRead)
		create := authHandler.RequirePermission(identity.PermCallsCreate)
		calls.POST("", create, a.callHandler.HandleStartCall)
		calls.GET("", read, a.callHandler.HandleListCalls)
		calls.GET("/:id", read, a.callHandler.HandleGetCall)
		calls.GET("/:id/transcript", read, a.callHandler.HandleGetTranscript)
		calls.POST("/:id/turns", create, a.callHandler.HandleTurn)
		calls.POST("/:id/end", create, a.callHandler.HandleEndCall)
		calls.POST("/:id/feedback", read, a.callHandler.HandleFeedback)
	}

	knowledge := protected.Group("/knowledge")
	{
		read := authHandler.RequirePermission(identity.PermKnowledgeRead)
		manage := authHandler.RequirePermission(identity.PermKnowledgeManage)
		knowledge.POST("/documents", manage, a.knowledgeHandler.HandleUploadDocument)
		knowledge.POST("/documents/text", manage, a.knowledgeHandler.HandleIngestText)
		knowledge.GET("/documents", read, a.knowledgeHandler.HandleListDocuments)
		knowledge.GET("/documents/:id", read, a.knowledgeHandler.HandleGetDocument)
		knowledge.DELETE("/documents/:id", manage, a.knowledgeHandler.HandleDeleteDocument)
		knowledge.POST("/search", read, a.knowledgeHandler.HandleSearch)
	}

	automation := protected.Group("/automation", authHandler.RequirePermission(identity.PermAutomationExecute))
	{
		automation.GET("/actions", a.automationHandler.HandleListActions)
		automation.POST("/execute", a.automationHandler.HandleExecute)
		automation.GET("/executions", a.automationHandler.HandleListExecutions)
	}

	tenant := protected.Group("/tenants/me", authHandler.RequirePermission(identity.PermTenantManage))
	{
		tenant.GET("", a.tenantHandler.HandleGetTenant)
		tenant.PATCH("/settings", a.tenantHandler.HandleUpdateSettings)
		tenant.PUT("/features/:feature", a.tenantHandler.HandleSetFeature)
		tenant.PUT("/providers/:provider/credentials", a.tenantHandler.HandleSetProviderCredential)
		tenant.POST("/users/:id/unlock", a.tenantHandler.HandleUnlockUser)
	}
}
