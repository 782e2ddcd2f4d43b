package middleware

import (
	"strings"

	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig lists the allowed origin suffixes (broker portal, admin console) and the
// dev-password escape hatch for local tooling.
type CORSConfig struct {
	AllowedSuffixes []string
	DevPassword     string
}

// SplitSuffixes parses FRONTEND_URL_ENDS_WITH (comma separated).
func SplitSuffixes(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CORS lets requests without an Origin through (webhooks, server-to-server) and only
// reflects credentialed CORS headers for known origins.
func CORS(cfg CORSConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" {
			return c.Next()
		}
		if c.Method() == fiber.MethodOptions && isLocalhost(origin) {
			setCORSHeaders(c, origin)
			return c.SendStatus(fiber.StatusNoContent)
		}
		lower := strings.ToLower(origin)
		for _, suffix := range cfg.AllowedSuffixes {
			if strings.HasSuffix(lower, suffix) {
				setCORSHeaders(c, origin)
				if c.Method() == fiber.MethodOptions {
					return c.SendStatus(fiber.StatusNoContent)
				}
				return c.Next()
			}
		}
		if cfg.DevPassword != "" && c.Get("dev-password") == cfg.DevPassword {
			setCORSHeaders(c, origin)
			return c.Next()
		}
		return response.Forbidden(c, "Not allowed by CORS")
	}
}

func isLocalhost(origin string) bool {
	return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
}

func setCORSHeaders(c *fiber.Ctx, origin string) {
	c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
	c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, Authorization, X-Trace-Id, dev-password")
	c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
}
