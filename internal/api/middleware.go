package api

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/your-org/admatch/internal/apperr"
	"github.com/your-org/admatch/internal/observability"
)

// LoggingMiddleware logs each request with slog.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		slog.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		)

		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			fmt.Sprintf("%d", status),
		).Observe(duration.Seconds())
	}
}

// RateLimitMiddleware applies a token bucket per org (falling back to
// client IP when the request carries no org). Exhausted buckets answer
// RATE_LIMIT_EXCEEDED, which callers may retry with backoff.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l := limiters[key]
		if l == nil {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = l
		}
		return l
	}

	return func(c *gin.Context) {
		key := c.Query("org_id")
		if key == "" {
			key = c.PostForm("org_id")
		}
		if key == "" {
			key = c.ClientIP()
		}

		if !limiterFor(key).Allow() {
			status, body := apperr.ToEnvelope(apperr.New(apperr.CodeRateLimitExceeded))
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}
