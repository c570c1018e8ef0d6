package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sonicgenius/api/internal/auth"
	"github.com/sonicgenius/api/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string // fallback for legacy tokens
}

// NewAuthMiddleware creates auth middleware backed by OIDC JWKS verification.
// A non-empty jwtSecret also accepts legacy HMAC tokens.
func NewAuthMiddleware(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
	}
}

// Identity is the caller as resolved from a bearer token. UserID keys the
// rate limits, the in-flight lock and job ownership.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

var (
	errMissingHeader = errors.New("Missing authorization header")
	errHeaderFormat  = errors.New("Invalid authorization header format")
	errInvalidToken  = errors.New("Invalid or expired token")
	errNotConfigured = errors.New("Authentication not configured")
)

// identify resolves the Authorization header. OIDC tokens are tried first,
// then legacy HMAC tokens when a secret is configured.
func (m *AuthMiddleware) identify(c *fiber.Ctx) (*Identity, any, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, nil, errMissingHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil, nil, errHeaderFormat
	}
	tokenString := parts[1]

	if m.verifier != nil {
		claims, err := m.verifier.Validate(tokenString)
		if err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email, Name: claims.Name}, claims, nil
		}
		if m.jwtSecret == "" {
			return nil, nil, errInvalidToken
		}
	}

	if m.jwtSecret != "" {
		claims, err := auth.ValidateLegacyToken(tokenString, m.jwtSecret)
		if err != nil {
			return nil, nil, errInvalidToken
		}
		return &Identity{UserID: claims.UserID, Email: claims.Email}, claims, nil
	}

	return nil, nil, errNotConfigured
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, claims, err := m.identify(c)
		if err != nil {
			return response.Unauthorized(c, err.Error())
		}
		setIdentity(c, id.UserID, id.Email, id.Name)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// ForwardAuth handles GET /auth/verify for Traefik ForwardAuth. It answers
// 200 with the X-User-* headers GatewayAuthMiddleware reads, so callers keep
// the same identity behind the gateway, or 401.
func (m *AuthMiddleware) ForwardAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, _, err := m.identify(c)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		c.Set(HeaderUserID, id.UserID)
		c.Set(HeaderUserEmail, id.Email)
		if id.Name != "" {
			c.Set(HeaderUserName, id.Name)
		}
		return c.SendStatus(fiber.StatusOK)
	}
}

// Anonymous identifies callers by client IP. Used when auth mode is "none"
// so rate limits and the in-flight lock still have a key.
func Anonymous() fiber.Handler {
	return func(c *fiber.Ctx) error {
		setIdentity(c, "ip:"+c.IP(), "", "")
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, userID, email, name string) {
	c.Locals("userId", userID)
	c.Locals("email", email)
	c.Locals("name", name)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals("name").(string); ok {
		return name
	}
	return ""
}
