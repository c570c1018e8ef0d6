package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sonicgenius/api/pkg/response"
)

// Identity headers set by ForwardAuth.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers
// set by Traefik ForwardAuth and populates Fiber context locals.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(HeaderUserID)
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		setIdentity(c, userID, c.Get(HeaderUserEmail), c.Get(HeaderUserName))
		return c.Next()
	}
}
