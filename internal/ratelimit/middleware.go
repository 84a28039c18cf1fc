package ratelimit

import (
	"strconv"

	"ai-hotline/internal/apierrors"
	"ai-hotline/internal/observability"

	"github.com/gin-gonic/gin"
)

// Middleware limits each tenant (or client IP for unauthenticated routes) to rpm requests per minute.
func (s *Service) Middleware(rpm int) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if tenantID := c.GetString("Tenant-ID"); tenantID != "" {
			key = "tenant:" + tenantID
		}

		result := s.Allow(c.Request.Context(), key, rpm)
		if result.Limit == 0 {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := (result.RetryAfterMs + 999) / 1000
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			s.logger.Warn(c.Request.Context(), "rate limit exceeded",
				observability.Field{Key: "key", Value: key},
				observability.Field{Key: "limit", Value: result.Limit},
			)
			apierrors.RespondWithError(c, apierrors.TooManyRequests("RATE_LIMITED", "Rate limit exceeded, retry later"))
			return
		}
		c.Next()
	}
}
