package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RouteLogger writes one line per request. Client errors log at warn, server errors at error.
func RouteLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// the error handler runs after this middleware returns
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		var ev *zerolog.Event
		switch {
		case status >= fiber.StatusInternalServerError:
			ev = log.Error()
		case status >= fiber.StatusBadRequest:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev = ev.Str("trace_id", GetTraceID(c)).Str("method", c.Method()).Str("path", c.Path()).
			Int("status", status).Int64("ms", time.Since(start).Milliseconds())
		if p, ok := GetPrincipal(c); ok {
			ev = ev.Uint("user_id", p.UserID).Str("role", p.Role)
		}
		ev.Msg("request")
		return err
	}
}
