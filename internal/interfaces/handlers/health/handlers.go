package health

import (
	"encoding/json"
	"strconv"
	"time"

	healthsvc "apolice-backend/internal/application/health"
	"apolice-backend/internal/middleware"
	"apolice-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const serviceName = "apolice-backend"

// Handlers holds dependencies for health endpoints.
type Handlers struct {
	Rdb            *redis.Client
	DB             healthsvc.DBPinger
	Backlog        healthsvc.BacklogFunc
	HealthAdminKey string
}

// Reset clears request stats in Redis. Requires query key=HEALTH_ADMIN_KEY.
func (h *Handlers) Reset(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" || key != h.HealthAdminKey {
		return response.Error(c, "Unauthorized", fiber.StatusForbidden, nil)
	}
	if h.Rdb == nil {
		return response.Error(c, "Redis not configured", fiber.StatusServiceUnavailable, nil)
	}
	ctx := c.UserContext()
	keys := []string{
		middleware.KeyReqTotal, middleware.KeyReqErrors, middleware.KeyResTime, middleware.KeyResCount,
		middleware.KeyStartTime, middleware.KeyLastReq, middleware.KeyErrorLog, middleware.KeyWebhookHit,
	}
	if err := h.Rdb.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	if err := h.Rdb.Set(ctx, middleware.KeyStartTime, strconv.FormatInt(time.Now().UnixMilli(), 10), 0).Err(); err != nil {
		return err
	}
	return response.Success(c, "Stats reset successfully", fiber.Map{"success": true}, nil)
}

// JSON returns the health report. 503 when the report status is not ok.
func (h *Handlers) JSON(c *fiber.Ctx) error {
	r := healthsvc.Collect(c.UserContext(), h.Rdb, h.DB, h.Backlog)
	code := fiber.StatusOK
	if r.Status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"service":      serviceName,
		"status":       r.Status,
		"runtime":      r.Runtime,
		"traffic":      r.Traffic,
		"dependencies": r.Dependencies,
		"signing":      r.Signing,
	})
}

// Errors returns the last 50 5xx entries recorded by the error handler.
func (h *Handlers) Errors(c *fiber.Ctx) error {
	if h.Rdb == nil {
		return c.JSON([]interface{}{})
	}
	entries, err := h.Rdb.LRange(c.UserContext(), middleware.KeyErrorLog, 0, 49).Result()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON([]interface{}{})
	}
	out := make([]map[string]interface{}, 0, len(entries))
	for _, s := range entries {
		var m map[string]interface{}
		if _ = json.Unmarshal([]byte(s), &m); m != nil {
			out = append(out, m)
		}
	}
	return c.JSON(out)
}
