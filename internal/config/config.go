package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	authTimeoutSecondsEnvVar = "AUTH_TIMEOUT_SECONDS"
	authTimeoutDurEnvVar     = "AUTH_TIMEOUT"
	otpTimeoutSecondsEnvVar  = "OTP_TIMEOUT_SECONDS"
	otpTimeoutDurEnvVar      = "OTP_TIMEOUT"
)

// Store backends understood by app.OpenStore.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config captures client runtime configuration loaded from environment variables.
type Config struct {
	AppName  string `env:"APP_NAME" env-default:"BillPay"`
	AppEnv   string `env:"APP_ENV" env-default:"development"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	APIBaseURL string `env:"BILLPAY_API_BASE_URL"`

	// AuthTimeout covers register, login and PIN calls. OTPTimeout covers OTP,
	// device verification and payment-adjacent calls.
	AuthTimeout       time.Duration
	OTPTimeout        time.Duration
	OTPResendCooldown time.Duration `env:"OTP_RESEND_COOLDOWN" env-default:"60s"`

	StoreBackend string `env:"STORE_BACKEND" env-default:"file"`
	StorePath    string `env:"STORE_PATH" env-default:".billpay/store.json"`
	RedisURL     string `env:"REDIS_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`
}

const (
	defaultAuthTimeout = 15 * time.Second
	defaultOTPTimeout  = 30 * time.Second
)

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)

	var err error
	if cfg.AuthTimeout, err = durationFromEnv(authTimeoutSecondsEnvVar, authTimeoutDurEnvVar, defaultAuthTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OTPTimeout, err = durationFromEnv(otpTimeoutSecondsEnvVar, otpTimeoutDurEnvVar, defaultOTPTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the backend-specific settings are present.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("BILLPAY_API_BASE_URL must be set")
	}
	if c.AuthTimeout <= 0 || c.OTPTimeout <= 0 {
		return fmt.Errorf("request timeouts must be positive")
	}
	if c.OTPResendCooldown < 0 {
		return fmt.Errorf("OTP_RESEND_COOLDOWN must not be negative")
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StoreFile:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH must be set when STORE_BACKEND=file")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when STORE_BACKEND=redis")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

// IsDev reports whether the client runs against a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
