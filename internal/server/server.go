package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tapturf/tapturf/internal/config"
	"github.com/tapturf/tapturf/internal/notification"
	"github.com/tapturf/tapturf/internal/otp"
	"github.com/tapturf/tapturf/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// Backends are the optional infrastructure handles. Nil fields fall back to
// in-memory or no-op behavior in development.
type Backends struct {
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Notifier notification.Notifier
	OTPs     *otp.Ledger
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, b Backends, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: routes.ErrorHandler,
	})

	deps := routes.Deps{
		Cfg:       cfg,
		DB:        b.DB,
		Cache:     b.Cache,
		Notifier:  b.Notifier,
		OTPs:      b.OTPs,
		Logger:    logger,
		AccessLog: cfg.IsDev(),
	}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// App exposes the underlying fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
