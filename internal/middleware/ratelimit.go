package middleware

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy defines the behavior when the rate limit store (Redis) is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if Redis is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed blocks the request (503 Service Unavailable) if Redis is unavailable.
	FailClosed
)

// CheckRateLimit counts one hit against the fixed window for a scope such as
// "signup" or "login" and reports whether it fits. When denied, retryAfter is
// the remaining window so callers can set a Retry-After header.
// Limiting is disabled when APP_ENV is "test", "development" or "stress" so
// dev and load test workflows are not throttled.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, scope, id string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	switch env {
	case "test", "development", "stress":
		return true, 0, nil
	}

	if rdb == nil {
		return false, 0, fmt.Errorf("redis client is nil")
	}

	// Key shape follows the cache inventory: rl:<scope>:<caller>.
	key := fmt.Sprintf("rl:%s:%s", scope, id)

	cnt, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if cnt == 1 {
		rdb.Expire(ctx, key, window)
	}
	if cnt > int64(limit) {
		ttl, ttlErr := rdb.TTL(ctx, key).Result()
		if ttlErr != nil || ttl < 0 {
			ttl = window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

// RateLimit returns a Fiber middleware enforcing `limit` requests per `window`
// under the FailOpen policy. It keys by authenticated userID (if set in
// c.Locals("userID")) otherwise by remote IP. The optional scope names the
// budget (the auth routes use "signup" and "login"); without it the request
// path is the scope.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, scope ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, scope...)
}

// RateLimitWithPolicy is RateLimit with an explicit store-failure policy.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, scope ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := context.Background()

		var id string
		if uid := c.Locals("userID"); uid != nil {
			id = fmt.Sprintf("user:%v", uid)
		} else {
			id = fmt.Sprintf("ip:%s", c.IP())
		}

		name := c.Path()
		if len(scope) > 0 {
			name = scope[0]
		}

		allowed, retryAfter, err := CheckRateLimit(ctx, rdb, name, id, limit, window)
		if err != nil {
			if policy == FailClosed {
				log.Printf("WARNING: rate limit store unavailable, failing closed for %s (scope %s): %v", c.Path(), name, err)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		if !allowed {
			RateLimitRejections.WithLabelValues(name).Inc()
			if retryAfter > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
