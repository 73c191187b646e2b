package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tapturf/tapturf/internal/auth"
	"github.com/tapturf/tapturf/internal/config"
	"github.com/tapturf/tapturf/internal/logging"
	"github.com/tapturf/tapturf/internal/notification"
	"github.com/tapturf/tapturf/internal/otp"
)

const (
	testPhoneSecret = "phone-secret"
	testPhone       = "+919876543210"
)

type outbox struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (o *outbox) Send(_ context.Context, msg notification.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		t.Fatalf("no email sent")
	}
	body := o.sent[len(o.sent)-1].Body
	const marker = "Your verification code is: "
	idx := strings.Index(body, marker)
	if idx < 0 {
		t.Fatalf("no code in %q", body)
	}
	return body[idx+len(marker) : idx+len(marker)+otp.CodeLength]
}

type testAPI struct {
	app    *fiber.App
	outbox *outbox
	phones *auth.PhoneVerifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Config{
		AppName:            "TapTurf",
		AppEnv:             "test",
		JWTSecret:          "jwt-secret",
		PhoneTokenSecret:   testPhoneSecret,
		TokenTTL:           time.Hour,
		DefaultCountryCode: "+91",
		CORSOrigins:        "*",
		LoginRateLimit:     10,
		IdempotencyTTL:     time.Minute,
		PIN:                config.PINConfig{MaxAttempts: 5, Lockout: 15 * time.Minute, BcryptCost: 4},
		OTP:                config.OTPConfig{TTL: 5 * time.Minute, MaxAttempts: 5},
	}
	box := &outbox{}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	err := Setup(app, Deps{
		Cfg:      cfg,
		Notifier: box,
		OTPs:     otp.NewLedger(otp.Options{}),
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	phones, _ := auth.NewPhoneVerifier(testPhoneSecret)
	return &testAPI{app: app, outbox: box, phones: phones}
}

func (a *testAPI) call(t *testing.T, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := a.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (a *testAPI) phoneToken(t *testing.T, phone string) string {
	t.Helper()
	tok, err := a.phones.Sign(phone, time.Minute)
	if err != nil {
		t.Fatalf("sign phone token: %v", err)
	}
	return tok
}

func (a *testAPI) register(t *testing.T) string {
	t.Helper()
	status, body := a.call(t, fiber.MethodPost, "/api/v1/auth/register", fiber.Map{
		"phone_token": a.phoneToken(t, testPhone),
		"name":        "Asha",
		"email":       "asha@example.com",
	}, "")
	if status != fiber.StatusCreated {
		t.Fatalf("register: expected 201, got %d %v", status, body)
	}
	status, body = a.call(t, fiber.MethodPost, "/api/v1/auth/pin/set", fiber.Map{
		"phone_token": a.phoneToken(t, testPhone),
		"pin":         "1357",
	}, "")
	if status != fiber.StatusOK {
		t.Fatalf("set pin: expected 200, got %d %v", status, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected session token, got %v", body)
	}
	return token
}

func TestSignupAndLoginFlow(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.call(t, fiber.MethodPost, "/api/v1/auth/check-phone", fiber.Map{"phone": "9876543210"}, "")
	if status != fiber.StatusOK || body["exists"] != false {
		t.Fatalf("expected unknown phone, got %d %v", status, body)
	}

	api.register(t)

	status, body = api.call(t, fiber.MethodPost, "/api/v1/auth/check-phone", fiber.Map{"phone": "98765 43210"}, "")
	if status != fiber.StatusOK || body["exists"] != true || body["has_pin"] != true {
		t.Fatalf("expected registered phone with pin, got %d %v", status, body)
	}

	status, body = api.call(t, fiber.MethodPost, "/api/v1/auth/pin/verify", fiber.Map{"phone": "9876543210", "pin": "1357"}, "")
	if status != fiber.StatusOK || body["success"] != true {
		t.Fatalf("expected login, got %d %v", status, body)
	}
	token, _ := body["token"].(string)

	status, body = api.call(t, fiber.MethodGet, "/api/v1/me", nil, token)
	if status != fiber.StatusOK {
		t.Fatalf("me: expected 200, got %d %v", status, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["phone"] != testPhone || user["name"] != "Asha" {
		t.Fatalf("unexpected profile %v", user)
	}
}

func TestPINLockoutOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.register(t)

	for _, remaining := range []float64{4, 3, 2, 1} {
		status, body := api.call(t, fiber.MethodPost, "/api/v1/auth/pin/verify", fiber.Map{"phone": testPhone, "pin": "0000"}, "")
		if status != fiber.StatusUnauthorized || body["attempts_remaining"] != remaining {
			t.Fatalf("expected 401 with %v remaining, got %d %v", remaining, status, body)
		}
	}
	status, body := api.call(t, fiber.MethodPost, "/api/v1/auth/pin/verify", fiber.Map{"phone": testPhone, "pin": "0000"}, "")
	if status != fiber.StatusLocked || body["retry_after_minutes"] != float64(15) {
		t.Fatalf("expected 423 for 15 minutes, got %d %v", status, body)
	}
	status, _ = api.call(t, fiber.MethodPost, "/api/v1/auth/pin/verify", fiber.Map{"phone": testPhone, "pin": "1357"}, "")
	if status != fiber.StatusLocked {
		t.Fatalf("expected correct pin to stay locked, got %d", status)
	}
}

func TestPINVerifyErrors(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name   string
		body   fiber.Map
		status int
	}{
		{"missing pin", fiber.Map{"phone": testPhone}, fiber.StatusBadRequest},
		{"short pin", fiber.Map{"phone": testPhone, "pin": "12"}, fiber.StatusBadRequest},
		{"unknown account", fiber.Map{"phone": "+919000000000", "pin": "1357"}, fiber.StatusNotFound},
	}
	for _, tc := range cases {
		status, body := api.call(t, fiber.MethodPost, "/api/v1/auth/pin/verify", tc.body, "")
		if status != tc.status || body["success"] != false {
			t.Fatalf("%s: expected %d envelope, got %d %v", tc.name, tc.status, status, body)
		}
	}

	status, _ := api.call(t, fiber.MethodPost, "/api/v1/auth/register", fiber.Map{
		"phone_token": api.phoneToken(t, "+919111111111"),
		"name":        "Ravi",
	}, "")
	if status != fiber.StatusCreated {
		t.Fatalf("register without pin: got %d", status)
	}
	status, body := api.call(t, fiber.MethodPost, "/api/v1/auth/pin/verify", fiber.Map{"phone": "9111111111", "pin": "1357"}, "")
	if status != fiber.StatusBadRequest || body["requires_pin_setup"] != true {
		t.Fatalf("expected requires_pin_setup, got %d %v", status, body)
	}

	status, _ = api.call(t, fiber.MethodPost, "/api/v1/auth/pin/set", fiber.Map{
		"phone_token": api.phoneToken(t, "+919111111111"),
		"pin":         "1234",
	}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected weak pin rejected, got %d", status)
	}
	status, _ = api.call(t, fiber.MethodPost, "/api/v1/auth/pin/set", fiber.Map{"phone_token": "forged", "pin": "1357"}, "")
	if status != fiber.StatusUnauthorized {
		t.Fatalf("expected forged phone token rejected, got %d", status)
	}
}

func TestEmailOTPFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.register(t)

	status, body := api.call(t, fiber.MethodPost, "/api/v1/email/send-otp", fiber.Map{"email": "not-an-email"}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected invalid email 400, got %d %v", status, body)
	}

	status, body = api.call(t, fiber.MethodPost, "/api/v1/email/send-otp", fiber.Map{"email": "Asha@Example.com"}, "")
	if status != fiber.StatusOK {
		t.Fatalf("send otp: expected 200, got %d %v", status, body)
	}
	code := api.outbox.lastCode(t)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	status, _ = api.call(t, fiber.MethodPost, "/api/v1/email/verify-otp", fiber.Map{"email": "asha@example.com", "otp": wrong}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected mismatch 400, got %d", status)
	}
	status, body = api.call(t, fiber.MethodPost, "/api/v1/email/verify-otp", fiber.Map{"email": "asha@example.com", "otp": code}, "")
	if status != fiber.StatusOK {
		t.Fatalf("expected verified, got %d %v", status, body)
	}
	status, _ = api.call(t, fiber.MethodPost, "/api/v1/email/verify-otp", fiber.Map{"email": "asha@example.com", "otp": code}, "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected single use, got %d", status)
	}

	_, body = api.call(t, fiber.MethodGet, "/api/v1/me", nil, token)
	user, _ := body["user"].(map[string]any)
	if user["email_verified"] != true {
		t.Fatalf("expected email marked verified, got %v", user)
	}
}

func TestEmailOTPAttemptCap(t *testing.T) {
	api := newTestAPI(t)
	api.call(t, fiber.MethodPost, "/api/v1/email/send-otp", fiber.Map{"email": "cap@example.com"}, "")
	code := api.outbox.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		api.call(t, fiber.MethodPost, "/api/v1/email/verify-otp", fiber.Map{"email": "cap@example.com", "otp": wrong}, "")
	}
	status, _ := api.call(t, fiber.MethodPost, "/api/v1/email/verify-otp", fiber.Map{"email": "cap@example.com", "otp": code}, "")
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", status)
	}
}

func TestUpdateProfile(t *testing.T) {
	api := newTestAPI(t)
	token := api.register(t)

	if status, _ := api.call(t, fiber.MethodPatch, "/api/v1/me", fiber.Map{"field": "name", "value": "Asha K"}, ""); status != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}

	status, body := api.call(t, fiber.MethodPatch, "/api/v1/me", fiber.Map{"field": "name", "value": "Asha K"}, token)
	if status != fiber.StatusOK {
		t.Fatalf("update name: got %d %v", status, body)
	}
	user, _ := body["user"].(map[string]any)
	if user["name"] != "Asha K" {
		t.Fatalf("expected updated name, got %v", user)
	}

	if status, _ := api.call(t, fiber.MethodPatch, "/api/v1/me", fiber.Map{"field": "role", "value": "admin"}, token); status != fiber.StatusBadRequest {
		t.Fatalf("expected unknown field 400, got %d", status)
	}

	api.call(t, fiber.MethodPost, "/api/v1/email/send-otp", fiber.Map{"email": "asha@example.com"}, "")
	if status, body := api.call(t, fiber.MethodPost, "/api/v1/email/verify-otp", fiber.Map{"email": "asha@example.com", "otp": api.outbox.lastCode(t)}, ""); status != fiber.StatusOK {
		t.Fatalf("verify email: got %d %v", status, body)
	}
	status, body = api.call(t, fiber.MethodPatch, "/api/v1/me", fiber.Map{"field": "email", "value": "new@else.com"}, token)
	if status != fiber.StatusOK {
		t.Fatalf("update email: got %d %v", status, body)
	}
	user, _ = body["user"].(map[string]any)
	if user["email"] != "new@else.com" || user["email_verified"] != false {
		t.Fatalf("expected unverified new address, got %v", user)
	}

	api.call(t, fiber.MethodPost, "/api/v1/auth/register", fiber.Map{
		"phone_token": api.phoneToken(t, "+919222222222"),
		"name":        "Other",
		"email":       "taken@example.com",
	}, "")
	if status, _ := api.call(t, fiber.MethodPatch, "/api/v1/me", fiber.Map{"field": "email", "value": "taken@example.com"}, token); status != fiber.StatusConflict {
		t.Fatalf("expected 409 for taken email, got %d", status)
	}
}

func TestHealthAndPing(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.call(t, fiber.MethodGet, "/healthz", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("healthz: got %d %v", status, body)
	}
	status, body = api.call(t, fiber.MethodGet, "/api/v1/ping", nil, "")
	if status != fiber.StatusOK || body["status"] != "ok" {
		t.Fatalf("ping: got %d %v", status, body)
	}
}

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	app := fiber.New()
	err := Setup(app, Deps{
		Cfg:      config.Config{AppEnv: "production", JWTSecret: "x", PhoneTokenSecret: "y"},
		Notifier: &outbox{},
		OTPs:     otp.NewLedger(otp.Options{}),
		Logger:   logging.Discard(),
	})
	if err == nil {
		t.Fatalf("expected missing database error")
	}
}
