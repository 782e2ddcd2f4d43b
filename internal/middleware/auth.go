package middleware

import (
	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// RequireAuth ensures a principal is in the session. Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := GetPrincipal(c); !ok {
			return response.Unauthorized(c, "Unauthorized")
		}
		return c.Next()
	}
}

// GetPrincipal returns the authenticated caller.
func GetPrincipal(c *fiber.Ctx) (domain.Principal, bool) {
	p, ok := c.Locals(userLocal).(domain.Principal)
	return p, ok
}

// SetPrincipal is used by tests and trusted internal callers.
func SetPrincipal(c *fiber.Ctx, p domain.Principal) {
	c.Locals(userLocal, p)
}
