package middleware

import (
	"context"
	"encoding/json"
	"strings"

	"apolice-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Sessions are written by the auth service; this service only reads them.
const (
	SessionCookieName  = "apolice.sid"
	SessionRedisPrefix = "session:"
	userLocal          = "user"
)

// SessionUser is the shape stored in the session under "user".
type SessionUser struct {
	UserID     uint   `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	AdvisoryID *uint  `json:"advisory_id"`
}

// Session loads the caller from Redis and stores a domain.Principal in Locals("user").
// A missing or unknown session leaves the request anonymous.
func Session(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(userLocal, nil)
		sid := sessionID(c)
		if sid == "" || rdb == nil {
			return c.Next()
		}
		b, err := rdb.Get(context.Background(), SessionRedisPrefix+sid).Bytes()
		if err != nil {
			if err != redis.Nil {
				log.Warn().Err(err).Msg("session lookup failed")
			}
			return c.Next()
		}
		var data struct {
			User *SessionUser `json:"user"`
		}
		if err := json.Unmarshal(b, &data); err != nil || data.User == nil || data.User.UserID == 0 {
			return c.Next()
		}
		c.Locals(userLocal, domain.Principal{
			UserID:     data.User.UserID,
			Role:       data.User.Role,
			AdvisoryID: data.User.AdvisoryID,
		})
		return c.Next()
	}
}

// sessionID reads the cookie (signed "s:id.sig" or plain) or a bearer token.
func sessionID(c *fiber.Ctx) string {
	sid := c.Cookies(SessionCookieName)
	if sid == "" {
		if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
			sid = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if strings.HasPrefix(sid, "s:") {
		sid, _, _ = strings.Cut(sid[2:], ".")
	}
	return sid
}
