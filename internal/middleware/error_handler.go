package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"apolice-backend/internal/pkg/apperrors"
	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const errorLogSize = 50

// ErrorHandler is the global error handler. Returns the standard error format.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return NewErrorHandler(nil)(c, err)
}

// NewErrorHandler maps *fiber.Error and *apperrors.Error to the standard error format and
// records 5xx responses in the Redis error log shown by /health/errors.
func NewErrorHandler(rdb *redis.Client) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			if fe.Code >= fiber.StatusInternalServerError {
				logFailure(rdb, c, err, fe.Code)
			}
			return response.Error(c, fe.Message, fe.Code, nil)
		}
		if code := apperrors.HTTPStatus(err); code >= fiber.StatusInternalServerError {
			logFailure(rdb, c, err, code)
		}
		return response.Problem(c, err)
	}
}

func logFailure(rdb *redis.Client, c *fiber.Ctx, err error, code int) {
	log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("path", c.Path()).Int("status", code).Msg("request failed")
	if rdb == nil {
		return
	}
	entry, _ := json.Marshal(map[string]interface{}{
		"time":     time.Now().UTC(),
		"method":   c.Method(),
		"path":     c.OriginalURL(),
		"message":  err.Error(),
		"trace_id": GetTraceID(c),
	})
	ctx := context.Background()
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, KeyErrorLog, entry)
	pipe.LTrim(ctx, KeyErrorLog, 0, errorLogSize-1)
	_, _ = pipe.Exec(ctx)
}
