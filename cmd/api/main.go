package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tapturf/tapturf/internal/config"
	"github.com/tapturf/tapturf/internal/infra"
	"github.com/tapturf/tapturf/internal/logging"
	"github.com/tapturf/tapturf/internal/notification"
	"github.com/tapturf/tapturf/internal/otp"
	"github.com/tapturf/tapturf/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	var backends server.Backends

	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		backends.DB = db
	}

	if cfg.RedisURL != "" {
		cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		backends.Cache = cache
	}

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Error("build email notifier", "transport", cfg.Email.Transport, "error", err)
		os.Exit(1)
	}
	defer closeNotifier()
	backends.Notifier = notifier

	backends.OTPs = otp.NewLedger(otp.Options{TTL: cfg.OTP.TTL, MaxAttempts: cfg.OTP.MaxAttempts})
	sweeper, err := otp.NewSweeper(backends.OTPs, cfg.OTP.SweepSchedule, logger)
	if err != nil {
		logger.Error("schedule otp sweep", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	srv, err := server.New(cfg, backends, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		<-sweeper.Stop().Done()
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("otp sweep still running at shutdown")
	}

	logger.Info("server exited cleanly")
}

// newNotifier builds the email transport selected by EMAIL_TRANSPORT. The
// returned func releases any broker resources.
func newNotifier(cfg config.Config, logger *slog.Logger) (notification.Notifier, func(), error) {
	switch cfg.Email.Transport {
	case config.EmailTransportSMTP:
		n, err := notification.NewSMTPNotifier(notification.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		}, logger)
		return n, func() {}, err
	case config.EmailTransportAMQP:
		conn, err := infra.NewAMQPConnection(cfg.AMQPURL)
		if err != nil {
			return nil, nil, err
		}
		n, err := notification.NewAMQPNotifier(conn, cfg.Email.Exchange, logger)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return n, closeAMQP(n, conn, logger), nil
	default:
		logger.Warn("email transport is log, codes are not delivered")
		return notification.NewLoggerNotifier(logger), func() {}, nil
	}
}

func closeAMQP(n *notification.AMQPNotifier, conn *amqp.Connection, logger *slog.Logger) func() {
	return func() {
		if err := n.Close(); err != nil {
			logger.Warn("close amqp channel", "error", err)
		}
		if err := conn.Close(); err != nil {
			logger.Warn("close amqp connection", "error", err)
		}
	}
}
