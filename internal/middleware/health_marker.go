package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Redis keys read by the health service and reset handler.
const (
	KeyReqTotal   = "health:apolice:req_total"
	KeyReqErrors  = "health:apolice:req_errors"
	KeyResTime    = "health:apolice:res_time_total"
	KeyResCount   = "health:apolice:res_count"
	KeyStartTime  = "health:apolice:start_time"
	KeyLastReq    = "health:apolice:last_request"
	KeyErrorLog   = "health:apolice:error_log"
	KeyWebhookHit = "health:apolice:webhooks"
)

// HealthMarker records request stats in Redis (skip /health* and favicon). Webhook deliveries
// are also counted per provider in the KeyWebhookHit hash.
func HealthMarker(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if rdb == nil || strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/favicon") {
			return c.Next()
		}

		start := time.Now()
		lastReq := map[string]interface{}{
			"time":   time.Now(),
			"ip":     c.IP(),
			"path":   c.OriginalURL(),
			"method": c.Method(),
		}
		b, _ := json.Marshal(lastReq)
		ctx := context.Background()
		_, _ = rdb.Set(ctx, KeyLastReq, b, 0).Result()
		_, _ = rdb.Incr(ctx, KeyReqTotal).Result()
		if provider, ok := strings.CutPrefix(path, "/api/v1/webhooks/"); ok && provider != "" {
			_, _ = rdb.HIncrBy(ctx, KeyWebhookHit, provider, 1).Result()
		}

		err := c.Next()

		ms := time.Since(start).Milliseconds()
		_, _ = rdb.Incr(ctx, KeyResCount).Result()
		_, _ = rdb.IncrByFloat(ctx, KeyResTime, float64(ms)).Result()
		if c.Response().StatusCode() >= 500 {
			_, _ = rdb.Incr(ctx, KeyReqErrors).Result()
		}
		return err
	}
}
