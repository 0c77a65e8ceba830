package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"entity-api/internal/config"
	"entity-api/internal/engine"
	"entity-api/internal/metadata"
)

const userKey = "user"

// Anonymous is the actor used when authentication is disabled.
var Anonymous = &metadata.UserContext{ID: "anonymous", Roles: []string{"admin"}}

// Middleware validates the bearer token and sets the UserContext on the request.
func Middleware(cfg config.AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled {
			c.Locals(userKey, Anonymous)
			return c.Next()
		}

		header := c.Get("Authorization")
		if header == "" {
			return engine.UnauthorizedError("Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return engine.UnauthorizedError("Invalid auth header format")
		}

		claims, err := ParseToken(parts[1], cfg.JWTSecret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}
		c.Locals(userKey, claims.Actor())
		return c.Next()
	}
}

// GetUser extracts the UserContext from a Fiber context.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals(userKey).(*metadata.UserContext)
	return user
}

// RequireAdmin rejects requests whose actor lacks the admin role. It must run
// after Middleware.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !user.IsAdmin() {
			return engine.NewAppError("FORBIDDEN", fiber.StatusForbidden, "Admin access required")
		}
		return c.Next()
	}
}
