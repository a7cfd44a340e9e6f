// Package ratelimit enforces per-IP limits on the relay server's join
// endpoint using an in-memory store. The relay is the only server surface;
// peers themselves talk peer-to-peer and are not rate limited here.
package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/konnektoren/konnekt-session-go/internal/v1/metrics"
)

// RateLimiter holds the limiter instances for the relay endpoints.
type RateLimiter struct {
	join *limiter.Limiter
}

// New parses the formatted rate (e.g. "60-M") and builds the limiter.
func New(joinRate string) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(joinRate)
	if err != nil {
		return nil, fmt.Errorf("invalid join rate: %w", err)
	}
	store := memory.NewStore()
	return &RateLimiter{join: limiter.New(store, rate)}, nil
}

// JoinMiddleware limits session joins per client IP.
func (rl *RateLimiter) JoinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "join:" + c.ClientIP()
		limiterCtx, err := rl.join.Get(c.Request.Context(), key)
		if err != nil {
			// Limiter failure must not take the endpoint down.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterCtx.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterCtx.Remaining))

		if limiterCtx.Reached {
			metrics.RateLimitExceeded.WithLabelValues("join").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
