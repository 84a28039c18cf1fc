package bootstrap

import (
	"context"
	"fmt"

	"ai-hotline/internal/auth/handler"
	"ai-hotline/internal/auth/processor"
	"ai-hotline/internal/automation"
	automationHandler "ai-hotline/internal/automation/handler"
	callHandler "ai-hotline/internal/calls/handler"
	"ai-hotline/internal/calls/orchestrator"
	callProcessor "ai-hotline/internal/calls/processor"
	"ai-hotline/internal/clients/mail"
	"ai-hotline/internal/clients/redis"
	"ai-hotline/internal/clients/sms"
	"ai-hotline/internal/config"
	"ai-hotline/internal/email"
	healthHandler "ai-hotline/internal/health/handler"
	healthProcessor "ai-hotline/internal/health/processor"
	knowledgeHandler "ai-hotline/internal/knowledge/handler"
	knowledgeProcessor "ai-hotline/internal/knowledge/processor"
	"ai-hotline/internal/knowledge/rag"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/ratelimit"
	"ai-hotline/internal/secrets"
	"ai-hotline/internal/store"
	tenantHandler "ai-hotline/internal/tenants/handler"
	tenantProcessor "ai-hotline/internal/tenants/processor"
	"ai-hotline/internal/voice/pipeline"
	voiceCallHandler "ai-hotline/internal/voicecall/handler"
	voiceCallProcessor "ai-hotline/internal/voicecall/processor"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store    *store.Store
	Redis    *redis.Client
	Metrics  *observability.Metrics
	Registry *providers.Registry
	Logger   *observability.Logger

	// Handlers
	AuthHandler       handler.Handler
	CallHandler       callHandler.Handler
	KnowledgeHandler  knowledgeHandler.Handler
	AutomationHandler automationHandler.Handler
	TenantHandler     tenantHandler.Handler
	HealthHandler     healthHandler.Handler
	VoiceCallHandler  voiceCallHandler.Handler

	RateLimiter *ratelimit.Service

	// Background workers
	CallProcessor *callProcessor.CallProcessor
	Dispatcher    *automation.Dispatcher
	Knowledge     *knowledgeProcessor.KnowledgeProcessor
}

// Initialize sets up all application dependencies. Only a broken secret key is fatal: the
// database, Redis and every vendor are optional and the service degrades without them.
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	// Initialize database store
	deps.Store = store.New(ctx, cfg.Database, logger)

	// Initialize Redis
	redisClient, err := redis.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		logger.WarnWithError(ctx, "Redis unavailable, continuing without cache", err)
	}
	deps.Redis = redisClient

	cipher, err := secrets.New(cfg.Auth.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential cipher: %w", err)
	}

	// Initialize providers
	deps.Registry = newRegistry(ctx, cfg.Providers, deps.Metrics, logger)

	// Initialize tenants
	tenantProc := tenantProcessor.New(deps.Store, cipher, deps.Registry, logger)
	deps.TenantHandler = tenantHandler.New(tenantProc, logger)

	// Initialize auth processor and handler
	authProc := processor.New(deps.Store, processor.NewBlacklist(deps.Redis), cfg.Auth, logger)
	deps.AuthHandler = handler.New(authProc, logger)

	// Initialize knowledge base
	deps.Knowledge = knowledgeProcessor.New(
		cfg.Knowledge,
		deps.Store,
		rag.NewPostgresVectorStore(deps.Store),
		tenantProc,
		deps.Registry,
		deps.Redis,
		rag.NewTokenizer(logger),
		deps.Metrics,
		logger,
	)
	deps.KnowledgeHandler = knowledgeHandler.New(deps.Knowledge, cfg.Knowledge.MaxFileSize, logger)

	// Initialize automation dispatcher
	deps.Dispatcher = automation.NewDispatcher(automation.DispatcherConfig{
		Workers:   cfg.Automation.Workers,
		QueueSize: cfg.Automation.QueueSize,
	}, tenantProc, deps.Store, deps.Metrics, logger)
	actions := []automation.Action{
		automation.NewWebhookAction(cfg.Automation.WebhookTimeout),
		automation.NewLogAction(logger),
	}
	if smsClient, err := sms.NewTwilioClient(cfg.Telephony.TwilioAccountSID, cfg.Telephony.TwilioAuthToken, cfg.Telephony.TwilioFromNumber, logger); err != nil {
		logger.Info(ctx, "SMS action disabled: "+err.Error())
	} else {
		actions = append(actions, automation.NewSMSAction(smsClient))
	}
	if mailClient, err := mail.NewResendClient(cfg.Email.ResendAPIKey, cfg.Email.DefaultSender, logger); err != nil {
		logger.Info(ctx, "email action disabled: "+err.Error())
	} else {
		actions = append(actions, automation.NewEmailAction(email.New(mailClient, logger)))
	}

	// Initialize call orchestration
	sessions := orchestrator.NewSessions()
	orch := orchestrator.New(orchestrator.Config{
		ContextTurns: cfg.Call.ContextTurns,
		TurnTimeout:  cfg.Call.TurnTimeout,
	}, sessions, deps.Registry, deps.Knowledge, deps.Dispatcher, deps.Metrics, logger)
	deps.CallProcessor = callProcessor.New(cfg.Call, orch, sessions, tenantProc, deps.Store, deps.Redis, deps.Dispatcher, deps.Metrics, logger)
	deps.CallHandler = callHandler.New(deps.CallProcessor, logger)

	// Escalation needs the call processor, which needs the dispatcher.
	actions = append(actions, automation.NewEscalateAction(deps.CallProcessor))
	for _, action := range actions {
		if err := deps.Dispatcher.Register(action); err != nil {
			return nil, fmt.Errorf("failed to register automation action: %w", err)
		}
	}
	deps.AutomationHandler = automationHandler.New(deps.Dispatcher, logger)

	// Initialize telephony
	voiceProc := voiceCallProcessor.NewVoiceCallProcessor(deps.CallProcessor, pipeline.DefaultConfig(), logger)
	deps.VoiceCallHandler = voiceCallHandler.New(voiceProc, cfg.Telephony.TwilioAuthToken, cfg.Telephony.PublicBaseURL, logger)

	deps.RateLimiter = ratelimit.NewService(deps.Redis, logger)

	healthProc := healthProcessor.New(deps.Store, deps.Redis, deps.Registry, cfg.Server.Version, logger)
	deps.HealthHandler = healthHandler.New(healthProc)

	return deps, nil
}

// Cleanup releases all resources
func (d *Dependencies) Cleanup() {
	ctx := context.Background()
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.WarnWithError(ctx, "failed to close Redis", err)
		}
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WarnWithError(ctx, "failed to close database", err)
	}
}
