package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/api/dto"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests beyond rps (with burst) with 429
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			slog.Warn("Rate limit exceeded",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
			)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error:     "Too many requests",
				Code:      "RATE_LIMITED",
				Message:   "Write rate limit exceeded, retry later",
				Timestamp: time.Now(),
			})
			return
		}
		c.Next()
	}
}
