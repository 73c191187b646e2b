package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tapturf/tapturf/internal/auth"
	"github.com/tapturf/tapturf/internal/config"
	"github.com/tapturf/tapturf/internal/identity"
	"github.com/tapturf/tapturf/internal/middleware"
	"github.com/tapturf/tapturf/internal/notification"
	"github.com/tapturf/tapturf/internal/otp"
	"github.com/tapturf/tapturf/internal/pin"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Notifier notification.Notifier
	// OTPs is owned by the caller so it can schedule sweeps.
	OTPs   *otp.Ledger
	Logger *slog.Logger
	// AccessLog enables the plain text fiber access log.
	AccessLog bool
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.OTPs == nil || d.Notifier == nil {
		return errors.New("otp ledger and notifier are required")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID",
		AllowMethods: "GET,POST,PATCH,OPTIONS",
	}))
	if d.AccessLog {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(log))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var accountRepo identity.Repository
	if d.DB != nil {
		accountRepo = identity.NewPostgresRepository(d.DB)
	} else {
		log.Warn("no database configured, accounts are kept in memory")
		accountRepo = identity.NewMemoryRepository()
	}
	accounts := identity.NewService(accountRepo, d.Cfg.DefaultCountryCode)
	pins := pin.NewAuthenticator(accountRepo, pin.NewBcryptHasher(d.Cfg.PIN.BcryptCost), pin.Options{
		MaxAttempts: d.Cfg.PIN.MaxAttempts,
		Lockout:     d.Cfg.PIN.Lockout,
		Logger:      log,
	})
	otps := otp.NewIssuer(d.OTPs, d.Notifier, otp.IssuerOptions{
		RollbackOnSendFailure: d.Cfg.OTP.RollbackOnSendFailure,
		Verified:              accounts,
		Logger:                log,
	})
	tokens, err := auth.NewTokens(d.Cfg.JWTSecret, d.Cfg.TokenTTL, d.Cfg.AppName)
	if err != nil {
		return err
	}
	phones, err := auth.NewPhoneVerifier(d.Cfg.PhoneTokenSecret)
	if err != nil {
		return err
	}
	handler := auth.NewHandler(auth.Dependencies{
		Accounts: accounts,
		PINs:     pins,
		OTPs:     otps,
		Tokens:   tokens,
		Phones:   phones,
		Logger:   log,
	})

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	phoneKey := func(raw string) string {
		if phone, err := accounts.NormalizePhone(raw); err == nil {
			return phone
		}
		return strings.ToLower(strings.TrimSpace(raw))
	}
	RegisterAuthRoutes(api, handler, middleware.RateLimit(d.Cache, "login", "phone", phoneKey, d.Cfg.LoginRateLimit, log))
	RegisterEmailRoutes(api, handler,
		middleware.RateLimit(d.Cache, "email", "email", identity.NormalizeEmail, d.Cfg.LoginRateLimit, log),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, log),
	)

	// Protected routes
	RegisterUserRoutes(api, handler, middleware.JWTAuth(tokens))

	return nil
}

// ErrorHandler renders errors as the {success:false, error} envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"success": false, "error": msg})
}
