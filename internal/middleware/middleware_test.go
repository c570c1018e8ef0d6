package middleware

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/internal/auth"
)

func whoAmI(c *fiber.Ctx) error {
	return c.SendString(GetUserID(c))
}

func do(t *testing.T, app *fiber.App, header map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestAuthenticateLegacyToken(t *testing.T) {
	app := fiber.New()
	app.Get("/", NewLegacyAuthMiddleware("secret").Authenticate(), whoAmI)

	token, err := auth.SignLegacyToken("secret", "user-1", "", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header map[string]string
		status int
	}{
		{"valid", map[string]string{"Authorization": "Bearer " + token}, 200},
		{"missing", nil, 401},
		{"bad scheme", map[string]string{"Authorization": "Basic " + token}, 401},
		{"garbage", map[string]string{"Authorization": "Bearer nope"}, 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.header)
			if status != tt.status {
				t.Errorf("expected %d, got %d (%s)", tt.status, status, body)
			}
			if status == 200 && body != "user-1" {
				t.Errorf("expected user-1, got %q", body)
			}
		})
	}
}

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/", GatewayAuthMiddleware(), whoAmI)

	if status, _ := do(t, app, nil); status != 401 {
		t.Errorf("expected 401 without headers, got %d", status)
	}
	status, body := do(t, app, map[string]string{"X-User-Id": "u-42"})
	if status != 200 || body != "u-42" {
		t.Errorf("unexpected %d %q", status, body)
	}
}

func TestForwardAuthMatchesDirectIdentity(t *testing.T) {
	m := NewLegacyAuthMiddleware("secret")
	token, err := auth.SignLegacyToken("secret", "user-7", "u7@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	verify := fiber.New()
	verify.Get("/", m.ForwardAuth())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := verify.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(HeaderUserEmail) != "u7@example.com" {
		t.Errorf("unexpected email header %q", resp.Header.Get(HeaderUserEmail))
	}

	gateway := fiber.New()
	gateway.Get("/", GatewayAuthMiddleware(), whoAmI)
	_, behindGateway := do(t, gateway, map[string]string{HeaderUserID: resp.Header.Get(HeaderUserID)})

	direct := fiber.New()
	direct.Get("/", m.Authenticate(), whoAmI)
	_, directID := do(t, direct, map[string]string{"Authorization": "Bearer " + token})

	if behindGateway != "user-7" || behindGateway != directID {
		t.Errorf("identity differs: gateway %q, direct %q", behindGateway, directID)
	}

	if status, _ := do(t, verify, map[string]string{"Authorization": "Bearer nope"}); status != 401 {
		t.Errorf("expected 401 for invalid token, got %d", status)
	}
	if status, _ := do(t, verify, nil); status != 401 {
		t.Errorf("expected 401 without token, got %d", status)
	}
}

func TestAnonymousUsesIP(t *testing.T) {
	app := fiber.New()
	app.Get("/", Anonymous(), whoAmI)

	status, body := do(t, app, nil)
	if status != 200 || body != "ip:0.0.0.0" {
		t.Errorf("unexpected %d %q", status, body)
	}
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRateLimit(t *testing.T) {
	rdb := testRedis(t)
	user := "rl-" + uuid.NewString()

	app := fiber.New()
	app.Get("/", GatewayAuthMiddleware(), NewRateLimiter(rdb, zerolog.Nop()).Limit("test", 2, time.Minute), whoAmI)

	header := map[string]string{"X-User-Id": user}
	for i := 0; i < 2; i++ {
		if status, _ := do(t, app, header); status != 200 {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}
	if status, _ := do(t, app, header); status != 429 {
		t.Errorf("expected 429, got %d", status)
	}
}

func TestInFlightGuard(t *testing.T) {
	rdb := testRedis(t)
	user := "if-" + uuid.NewString()
	ctx := context.Background()

	app := fiber.New()
	app.Get("/", GatewayAuthMiddleware(), NewInFlight(rdb, time.Minute, zerolog.Nop()).Guard(), whoAmI)
	header := map[string]string{"X-User-Id": user}

	// Simulate another request holding the lock.
	key := "inflight:" + user
	rdb.Set(ctx, key, "other", time.Minute)
	if status, body := do(t, app, header); status != 409 {
		t.Errorf("expected 409 while locked, got %d (%s)", status, body)
	}

	rdb.Del(ctx, key)
	if status, _ := do(t, app, header); status != 200 {
		t.Errorf("expected 200 after release, got %d", status)
	}
	if n, _ := rdb.Exists(ctx, key).Result(); n != 0 {
		t.Error("lock should be released after the request")
	}
}
