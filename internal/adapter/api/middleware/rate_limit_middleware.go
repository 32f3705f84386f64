package middleware

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"modchat/internal/infrastructure/ratelimit"
)

// RateLimit limits action per client IP with the shared token buckets.
func RateLimit(limiter *ratelimit.RateLimiter, action string, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()

			allowed, retryAfter := limiter.Allow(ip, action)
			if !allowed {
				log.Warn().Str("ip", ip).Str("action", action).Dur("retry_after", retryAfter).Msg("rate limit exceeded")

				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":       "Rate limit exceeded",
					"retry_after": int(math.Ceil(retryAfter.Seconds())),
				})
			}

			return next(c)
		}
	}
}

// CleanupRateLimiter drops idle buckets every interval until ctx is done.
func CleanupRateLimiter(ctx context.Context, limiter *ratelimit.RateLimiter, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup(maxIdle)
			}
		}
	}()
}
