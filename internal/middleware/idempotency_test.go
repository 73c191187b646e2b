package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tapturf/tapturf/internal/logging"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache
}

func setupIdempotentApp(t *testing.T) (*fiber.App, *int) {
	t.Helper()
	cache := newTestRedis(t)
	calls := 0
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/email/send-otp", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "call": calls})
	})
	return app, &calls
}

func postJSON(t *testing.T, app *fiber.App, path, body string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	app, calls := setupIdempotentApp(t)

	for i := 0; i < 2; i++ {
		status, _ := postJSON(t, app, "/email/send-otp", "{}", nil)
		if status != fiber.StatusOK {
			t.Fatalf("expected %d got %d", fiber.StatusOK, status)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected handler to run for each request, ran %d times", *calls)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupIdempotentApp(t)
	headers := map[string]string{idempotencyKeyHeader: "abc123"}

	status, payload := postJSON(t, app, "/email/send-otp", "{}", headers)
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, cached := postJSON(t, app, "/email/send-otp", "{}", headers)
	if status != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if *calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", *calls)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeyIsBoundToBody(t *testing.T) {
	app, calls := setupIdempotentApp(t)
	headers := map[string]string{idempotencyKeyHeader: "reused"}

	if status, _ := postJSON(t, app, "/email/send-otp", `{"email":"a@example.com"}`, headers); status != fiber.StatusOK {
		t.Fatalf("first request: got %d", status)
	}
	if status, _ := postJSON(t, app, "/email/send-otp", `{"email":"b@example.com"}`, headers); status != fiber.StatusOK {
		t.Fatalf("second request: got %d", status)
	}
	if *calls != 2 {
		t.Fatalf("a different body must reach the handler, ran %d times", *calls)
	}
	postJSON(t, app, "/email/send-otp", `{"email":"a@example.com"}`, headers)
	if *calls != 2 {
		t.Fatalf("same body must replay, ran %d times", *calls)
	}
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	app, _ := setupIdempotentApp(t)

	status, _ := postJSON(t, app, "/email/send-otp", "{}", map[string]string{idempotencyKeyHeader: strings.Repeat("k", 200)})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyWithoutRedisIsNoop(t *testing.T) {
	app := fiber.New()
	app.Use(Idempotency(nil, time.Minute, logging.Discard()))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	status, _ := postJSON(t, app, "/x", "{}", map[string]string{idempotencyKeyHeader: "k"})
	if status != fiber.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", status)
	}
}
