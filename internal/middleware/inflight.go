package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/pkg/response"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// InFlight allows one synchronous analysis per caller at a time
type InFlight struct {
	redis  redis.UniversalClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewInFlight creates the guard. ttl bounds how long a crashed request can
// hold the lock and should exceed the model timeout.
func NewInFlight(redisClient redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *InFlight {
	return &InFlight{redis: redisClient, ttl: ttl, logger: logger}
}

// Guard rejects a request with 409 while the caller has another analysis running
func (g *InFlight) Guard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("inflight:%s", userID)
		token := uuid.NewString()
		ctx := c.UserContext()

		ok, err := g.redis.SetNX(ctx, key, token, g.ttl).Result()
		if err != nil {
			g.logger.Warn().Err(err).Str("key", key).Msg("in-flight lock unavailable")
			return c.Next()
		}
		if !ok {
			return response.AnalysisInProgress(c)
		}
		defer func() {
			if err := releaseScript.Run(ctx, g.redis, []string{key}, token).Err(); err != nil {
				g.logger.Warn().Err(err).Str("key", key).Msg("failed to release in-flight lock")
			}
		}()

		return c.Next()
	}
}
