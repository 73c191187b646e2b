package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Email transports understood by EmailTransport.
const (
	EmailTransportLog  = "log"
	EmailTransportSMTP = "smtp"
	EmailTransportAMQP = "amqp"
)

// devSecret signs tokens in development when no secret is configured.
const devSecret = "tapturf-dev-secret"

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"TapTurf"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	AMQPURL        string        `env:"AMQP_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	LoginRateLimit int           `env:"LOGIN_RATE_LIMIT" envDefault:"10"`
	CORSOrigins    string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`

	JWTSecret          string        `env:"JWT_SECRET"`
	TokenTTL           time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	PhoneTokenSecret   string        `env:"PHONE_TOKEN_SECRET"`
	DefaultCountryCode string        `env:"DEFAULT_COUNTRY_CODE" envDefault:"+91"`

	PIN   PINConfig
	OTP   OTPConfig
	Email EmailConfig
}

// PINConfig tunes the PIN lockout policy.
type PINConfig struct {
	MaxAttempts int           `env:"PIN_MAX_ATTEMPTS" envDefault:"5"`
	Lockout     time.Duration `env:"PIN_LOCKOUT" envDefault:"15m"`
	BcryptCost  int           `env:"PIN_BCRYPT_COST" envDefault:"12"`
}

// OTPConfig tunes email one-time codes.
type OTPConfig struct {
	TTL                   time.Duration `env:"OTP_TTL" envDefault:"5m"`
	MaxAttempts           int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	SweepSchedule         string        `env:"OTP_SWEEP_SCHEDULE" envDefault:"@every 10m"`
	RollbackOnSendFailure bool          `env:"OTP_ROLLBACK_ON_SEND_FAILURE" envDefault:"false"`
}

// EmailConfig selects and configures the outbound email transport.
type EmailConfig struct {
	Transport    string `env:"EMAIL_TRANSPORT" envDefault:"log"`
	From         string `env:"EMAIL_FROM" envDefault:"TapTurf <noreply@tapturf.in>"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	Exchange     string `env:"EMAIL_EXCHANGE" envDefault:"notifications"`
}

// Load reads an optional .env file, then populates a Config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse populates a Config from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Email.Transport = strings.ToLower(cfg.Email.Transport)
	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devSecret
		}
		if cfg.PhoneTokenSecret == "" {
			cfg.PhoneTokenSecret = devSecret
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.PhoneTokenSecret == "" {
			return fmt.Errorf("PHONE_TOKEN_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	if c.PIN.MaxAttempts <= 0 {
		return fmt.Errorf("PIN_MAX_ATTEMPTS must be positive")
	}
	if c.PIN.Lockout <= 0 {
		return fmt.Errorf("PIN_LOCKOUT must be positive")
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	switch c.Email.Transport {
	case EmailTransportLog:
	case EmailTransportSMTP:
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST must be set when EMAIL_TRANSPORT=smtp")
		}
	case EmailTransportAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL must be set when EMAIL_TRANSPORT=amqp")
		}
	default:
		return fmt.Errorf("unknown EMAIL_TRANSPORT %q", c.Email.Transport)
	}
	return nil
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
