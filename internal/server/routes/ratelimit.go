package routes

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "facet:ratelimit:"

// RateLimiter enforces a fixed-window request budget per client identity.
// Widgets read X-RateLimit-Reset (absolute unix seconds) to schedule retries.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter builds a redis-backed limiter allowing perWindow requests
// per window.
func NewRateLimiter(client *redis.Client, perWindow int, window time.Duration) *RateLimiter {
	if perWindow <= 0 {
		perWindow = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		client: client,
		limit:  int64(perWindow),
		window: window,
		now:    time.Now,
	}
}

// Middleware returns the Echo middleware. Webhooks and health probes are not
// client-initiated and stay unmetered.
func (r *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rateLimitSkipper(c) {
				return next(c)
			}

			clientID := c.Request().Header.Get(ClientIdentityHeader)
			if clientID == "" {
				// Identity enforcement belongs to the handlers.
				return next(c)
			}

			now := r.now()
			windowStart := now.Truncate(r.window)
			reset := windowStart.Add(r.window)
			key := fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, clientID, windowStart.Unix())

			count, err := r.client.Incr(c.Request().Context(), key).Result()
			if err != nil {
				// Redis outage must not take the API down with it.
				return next(c)
			}
			if count == 1 {
				r.client.Expire(c.Request().Context(), key, r.window+time.Second)
			}

			c.Response().Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
			if count > r.limit {
				retryAfter := int(time.Until(reset).Seconds()) + 1
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func rateLimitSkipper(c echo.Context) bool {
	requestPath := c.Request().URL.Path
	if requestPath == "/health" {
		return true
	}
	return strings.HasPrefix(requestPath, "/webhooks/")
}
