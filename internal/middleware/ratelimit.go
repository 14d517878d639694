package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/castdeck/api/internal/repository"
	"github.com/castdeck/api/pkg/response"
)

type RateLimiter struct {
	redis  *redis.Client
	keys   repository.Keys
	logger zerolog.Logger
	now    func() time.Time
}

func NewRateLimiter(redisClient *redis.Client, keys repository.Keys, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
}

// Limit counts requests per user in fixed windows. A redis failure lets
// the request through.
func (rl *RateLimiter) Limit(name string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 {
			return c.Next()
		}

		now := rl.now()
		slot := now.UnixNano() / int64(window)
		key := rl.keys.RateLimit(name+":"+userID, slot)
		ctx := c.UserContext()

		pipe := rl.redis.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			rl.logger.Warn().Err(err).Str("key", key).Msg("rate limit check skipped")
			return c.Next()
		}

		count := incr.Val()
		if count > int64(maxRequests) {
			reset := time.Unix(0, (slot+1)*int64(window))
			c.Set("Retry-After", strconv.Itoa(int(reset.Sub(now).Seconds())+1))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(maxRequests-int(count)))

		return c.Next()
	}
}

// DispatchLimit guards the command routes.
func (rl *RateLimiter) DispatchLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("dispatch", maxPerMin, time.Minute)
}
