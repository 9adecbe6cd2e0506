package ratelimit

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware caps request rates per authenticated user and route. Anonymous
// requests fall back to the client IP. A limiter outage fails open: dropping
// payments because redis blinked is worse than a window of unthrottled
// traffic.
func Middleware(limiter Limiter, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := c.GetString("user_id")
		if principal == "" {
			principal = c.ClientIP()
		}

		ok, err := limiter.Allow(c.Request.Context(), principal, c.FullPath())
		if err != nil {
			log.Error("rate limiter", "err", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
