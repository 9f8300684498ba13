package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/eldercircle/eldercircle-billing/internal/config"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// DecideFunc resolves the limit that applies to a request.
type DecideFunc func(c *gin.Context, cfg config.RateLimitConfig) Decision

// Middleware rejects requests over their limit with 429. Limiter errors fail
// open.
func Middleware(m *Manager, decide DecideFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || decide == nil {
			c.Next()
			return
		}
		decision := decide(c, m.Settings())
		if decision.Limit <= 0 {
			c.Next()
			return
		}
		result, errAllow := m.AllowDecision(c.Request.Context(), decision)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit: check failed")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Too many requests, please retry shortly.",
				"code":    "rate_limited",
			})
			return
		}
		c.Next()
	}
}
