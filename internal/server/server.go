package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apisetup "ai-hotline/internal/api"
	"ai-hotline/internal/apierrors"
	"ai-hotline/internal/bootstrap"
	"ai-hotline/internal/config"
	"ai-hotline/internal/observability"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 30 * time.Second

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	deps       *bootstrap.Dependencies
	config     *config.Config
	logger     *observability.Logger
	cancel     context.CancelFunc
}

// New creates a new Server instance
func New(cfg *config.Config, deps *bootstrap.Dependencies, logger *observability.Logger) *Server {
	return &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
	}
}

// Setup configures the HTTP router with middleware and routes
func (s *Server) Setup() {
	if s.config.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	apierrors.UseJSONFieldNames()

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "OPTIONS", "DELETE"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Accept", "Cache-Control", observability.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", observability.HeaderRequestID}
	corsConfig.AllowOrigins = s.config.Server.CORSOrigins

	// Apply middleware
	s.router.Use(cors.New(corsConfig))
	s.router.Use(observability.Middleware(s.logger, s.deps.Metrics))

	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	// Register routes
	rootRouter := s.router.Group("/")
	api := apisetup.New(rootRouter, apisetup.Handlers{
		Auth:       s.deps.AuthHandler,
		Calls:      s.deps.CallHandler,
		Knowledge:  s.deps.KnowledgeHandler,
		Automation: s.deps.AutomationHandler,
		Tenants:    s.deps.TenantHandler,
		Health:     s.deps.HealthHandler,
		VoiceCall:  s.deps.VoiceCallHandler,
	}, s.deps.RateLimiter, s.config.Server.RateLimitRPM)
	api.RegisterRoutes()
}

// Start begins listening for HTTP requests and starts background workers
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.deps.Dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start automation workers: %w", err)
	}
	if err := s.deps.Knowledge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingestion workers: %w", err)
	}

	// Session sweeper ends idle and overdue calls
	go s.deps.CallProcessor.Run(ctx)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run the server in a goroutine so that it doesn't block
	go func() {
		s.logger.Info(ctx, fmt.Sprintf("Server starting on port %d", s.config.Server.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "server failed to start", err)
			os.Exit(1)
		}
	}()

	return nil
}

// WaitForShutdown blocks until a shutdown signal is received, then gracefully shuts down
func (s *Server) WaitForShutdown(ctx context.Context) error {
	// Set up a channel to listen for OS signals for shutdown
	quit := make(chan os.Signal, 1)
	// kill (no param) default sends syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	// kill -9 is syscall.SIGKILL but can't be caught, so don't need to add it
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received
	<-quit
	s.logger.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// End live calls first: their summaries are queued on the automation pool.
	s.deps.CallProcessor.Shutdown(shutdownCtx)
	if err := s.deps.Knowledge.Drain(shutdownCtx); err != nil {
		s.logger.WarnWithError(ctx, "ingestion workers did not drain", err)
	}
	if err := s.deps.Dispatcher.Drain(shutdownCtx); err != nil {
		s.logger.WarnWithError(ctx, "automation workers did not drain", err)
	}
	s.cancel()

	// Cleanup dependencies
	s.deps.Cleanup()

	s.logger.Info(ctx, "Server exited gracefully")
	return nil
}
