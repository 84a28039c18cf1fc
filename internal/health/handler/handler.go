package handler

import (
	"context"
	"net/http"
	"time"

	"ai-hotline/internal/health/processor"

	"github.com/gin-gonic/gin"
)

const serviceName = "ai-hotline-backend"

type Checker interface {
	Version() string
	Ready(ctx context.Context) bool
	Detailed(ctx context.Context) processor.Report
}

type Handler struct {
	health Checker
}

func New(health Checker) Handler {
	return Handler{health: health}
}

// RegisterRoutes mounts the unauthenticated health endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/", h.HandleRoot)
	r.GET("/health", h.HandleHealth)
	r.GET("/health/detailed", h.HandleDetailed)
	r.GET("/health/ready", h.HandleReady)
	r.GET("/health/live", h.HandleLive)
	r.GET("/api/health/readiness", h.HandleReady)
	r.GET("/api/health/liveness", h.HandleLive)
}

func (h *Handler) HandleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "AI Hotline API",
		"version": h.health.Version(),
		"docs":    "/docs",
		"health":  "/health",
	})
}

func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    processor.StatusHealthy,
		"timestamp": time.Now().UTC(),
		"service":   serviceName,
		"version":   h.health.Version(),
	})
}

func (h *Handler) HandleDetailed(c *gin.Context) {
	report := h.health.Detailed(c.Request.Context())
	status := http.StatusOK
	if report.Status == processor.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (h *Handler) HandleReady(c *gin.Context) {
	if !h.health.Ready(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "timestamp": time.Now().UTC()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "timestamp": time.Now().UTC()})
}

func (h *Handler) HandleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now().UTC(), "service": serviceName})
}
