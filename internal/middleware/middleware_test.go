package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"apolice-backend/internal/constants"
	"apolice-backend/internal/domain"
	"apolice-backend/internal/pkg/apperrors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return rdb
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	b, _ := io.ReadAll(body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestSession_LoadsPrincipal(t *testing.T) {
	rdb := newRedis(t)
	adv := uint(3)
	payload, _ := json.Marshal(map[string]interface{}{
		"user": SessionUser{UserID: 12, Email: "carla@corretora.com.br", Role: domain.RoleBroker, AdvisoryID: &adv},
	})
	require.NoError(t, rdb.Set(context.Background(), SessionRedisPrefix+"abc", payload, 0).Err())

	app := fiber.New()
	app.Use(Session(rdb))
	app.Get("/me", RequireAuth(), func(c *fiber.Ctx) error {
		p, _ := GetPrincipal(c)
		return c.JSON(fiber.Map{"user_id": p.UserID, "role": p.Role, "advisory_id": *p.AdvisoryID})
	})

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", SessionCookieName+"=s:abc.signature")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, float64(12), out["user_id"])
	assert.Equal(t, "broker", out["role"])
	assert.Equal(t, float64(3), out["advisory_id"])

	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestSession_AnonymousIsUnauthorized(t *testing.T) {
	rdb := newRedis(t)
	app := fiber.New()
	app.Use(Session(rdb))
	app.Get("/me", RequireAuth(), func(c *fiber.Ctx) error { return c.SendStatus(200) })

	for _, cookie := range []string{"", SessionCookieName + "=missing"} {
		req := httptest.NewRequest("GET", "/me", nil)
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)
		out := decode(t, resp.Body)
		assert.Equal(t, "error", out["status"])
	}
}

func TestAuthorizePermission(t *testing.T) {
	cases := []struct {
		role string
		want int
	}{
		{domain.RoleAdmin, 200},
		{domain.RoleBroker, 403},
		{"", 500},
	}
	for _, tc := range cases {
		app := fiber.New()
		app.Use(func(c *fiber.Ctx) error {
			SetPrincipal(c, domain.Principal{UserID: 1, Role: tc.role})
			return c.Next()
		})
		app.Patch("/pay", AuthorizePermission(constants.PayCommissions), func(c *fiber.Ctx) error { return c.SendStatus(200) })
		resp, err := app.Test(httptest.NewRequest("PATCH", "/pay", nil))
		require.NoError(t, err)
		assert.Equal(t, tc.want, resp.StatusCode, "role %q", tc.role)
	}
}

func TestErrorHandler_MapsKinds(t *testing.T) {
	rdb := newRedis(t)
	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(rdb)})
	app.Get("/validation", func(c *fiber.Ctx) error {
		return apperrors.Validation("Insufficient credit", errors.New("boom"))
	})
	app.Get("/external", func(c *fiber.Ctx) error {
		return apperrors.External("Payment gateway returned 500", nil)
	})
	app.Get("/internal", func(c *fiber.Ctx) error { return errors.New("pq: secret detail") })
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusBadRequest, "bad") })

	check := func(path string, code int, msg string) {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, code, resp.StatusCode, path)
		out := decode(t, resp.Body)
		assert.Equal(t, msg, out["error"].(map[string]interface{})["message"], path)
	}
	check("/validation", 422, "Insufficient credit")
	check("/external", 502, "Payment gateway returned 500")
	check("/internal", 500, "Internal Server Error")
	check("/fiber", 400, "bad")

	n, err := rdb.LLen(context.Background(), KeyErrorLog).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestHealthMarker_CountsRequests(t *testing.T) {
	rdb := newRedis(t)
	app := fiber.New()
	app.Use(HealthMarker(rdb))
	app.Post("/api/v1/webhooks/asaas", func(c *fiber.Ctx) error { return c.SendStatus(200) })
	app.Get("/boom", func(c *fiber.Ctx) error { return c.SendStatus(503) })
	app.Get("/health/json", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	for _, r := range []struct{ method, path string }{
		{"POST", "/api/v1/webhooks/asaas"},
		{"GET", "/boom"},
		{"GET", "/health/json"},
	} {
		_, err := app.Test(httptest.NewRequest(r.method, r.path, nil))
		require.NoError(t, err)
	}

	ctx := context.Background()
	total, _ := rdb.Get(ctx, KeyReqTotal).Int()
	errs, _ := rdb.Get(ctx, KeyReqErrors).Int()
	hits, _ := rdb.HGet(ctx, KeyWebhookHit, "asaas").Int()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 1, hits)
}

func TestTracing_ReusesValidHeader(t *testing.T) {
	app := fiber.New()
	app.Use(Tracing())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetTraceID(c)) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-Id", "4f0c7a53-2b1e-4c55-9d57-0d1f5f0e8a11")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "4f0c7a53-2b1e-4c55-9d57-0d1f5f0e8a11", resp.Header.Get("X-Trace-Id"))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-Id", "not-a-uuid")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", resp.Header.Get("X-Trace-Id"))
	assert.Len(t, resp.Header.Get("X-Trace-Id"), 36)
}

func TestTracing_FallsBackToRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(Tracing())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetTraceID(c)) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-Id", "9b2d3c1e-8a7f-4e6d-b5c4-a3b2c1d0e9f8")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "9b2d3c1e-8a7f-4e6d-b5c4-a3b2c1d0e9f8", resp.Header.Get("X-Trace-Id"))
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{AllowedSuffixes: SplitSuffixes(" .corretora.com.br, .Admin.io "), DevPassword: "dev"}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	cases := []struct {
		origin, password string
		want             int
	}{
		{"", "", fiber.StatusOK},
		{"https://app.corretora.com.br", "", fiber.StatusOK},
		{"https://console.admin.io", "", fiber.StatusOK},
		{"https://evil.example.com", "", fiber.StatusForbidden},
		{"https://evil.example.com", "dev", fiber.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		if tc.password != "" {
			req.Header.Set("dev-password", tc.password)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, resp.StatusCode, tc.origin)
	}
}
