package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	StoreDriver        string
	JWTSecret          string
	CORSAllowedOrigins []string

	LogFormat string
	LogLevel  string

	OTelExporter string
	OTelEndpoint string
	OTelSampling float64

	Payment  PaymentConfig
	Razorpay RazorpayConfig
	Kafka    KafkaConfig

	RateLimit     string
	MaxBodyBytes  int64
	ShutdownGrace time.Duration
}

// PaymentConfig tunes the reconciliation engine.
type PaymentConfig struct {
	ConfirmSecret    string
	WebhookSecret    string
	Currency         string
	ReceiptPrefix    string
	StoreTimeout     time.Duration
	LockTTL          time.Duration
	WebhookReplayTTL time.Duration
	EventTimeout     time.Duration
	ReconcileDelay   time.Duration
	OrderTTL         time.Duration
	SweepAfter       time.Duration
	SweepInterval    string
	SweepLimit       int
	WorkerQueue      string
	WorkerConcurrent int
}

// RazorpayConfig holds provider credentials and transport settings.
type RazorpayConfig struct {
	KeyID          string
	KeySecret      string
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	BreakerMinReqs int
	BreakerRatio   float64
	BreakerOpenFor time.Duration
}

// KafkaConfig enables the domain event publisher when Brokers is set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		StoreDriver:        strings.ToLower(valueOrDefault(k.String("STORE_DRIVER"), "postgres")),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		OTelExporter:       valueOrDefault(k.String("OTEL_EXPORTER"), "none"),
		OTelEndpoint:       k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSampling:       parseFloat(k.String("OTEL_SAMPLING_RATIO"), 0.1),
		RateLimit:          valueOrDefault(k.String("RATE_LIMIT"), "30-M"),
		MaxBodyBytes:       int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
		ShutdownGrace:      parseDuration(k.String("SHUTDOWN_GRACE"), "15s"),
		Payment: PaymentConfig{
			ConfirmSecret:    k.String("PAYMENT_CONFIRM_SECRET"),
			WebhookSecret:    k.String("PAYMENT_WEBHOOK_SECRET"),
			Currency:         strings.ToUpper(valueOrDefault(k.String("PAYMENT_CURRENCY"), "INR")),
			ReceiptPrefix:    valueOrDefault(k.String("PAYMENT_RECEIPT_PREFIX"), "bk"),
			StoreTimeout:     parseDuration(k.String("STORE_TIMEOUT"), "3s"),
			LockTTL:          parseDuration(k.String("PAYMENT_LOCK_TTL"), "30s"),
			WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "72h"),
			EventTimeout:     parseDuration(k.String("EVENT_PUBLISH_TIMEOUT"), "2s"),
			ReconcileDelay:   parseDuration(k.String("RECONCILE_DELAY"), "15m"),
			OrderTTL:         parseDuration(k.String("ORDER_TTL"), "1h"),
			SweepAfter:       parseDuration(k.String("SWEEP_AFTER"), "20m"),
			SweepInterval:    valueOrDefault(k.String("SWEEP_INTERVAL"), "@every 10m"),
			SweepLimit:       parseInt(k.String("SWEEP_LIMIT"), 200),
			WorkerQueue:      valueOrDefault(k.String("WORKER_QUEUE"), "payments"),
			WorkerConcurrent: parseInt(k.String("WORKER_CONCURRENCY"), 10),
		},
		Razorpay: RazorpayConfig{
			KeyID:          k.String("RAZORPAY_KEY_ID"),
			KeySecret:      k.String("RAZORPAY_KEY_SECRET"),
			BaseURL:        valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com"),
			Timeout:        parseDuration(k.String("PROVIDER_TIMEOUT"), "10s"),
			MaxAttempts:    parseInt(k.String("PROVIDER_MAX_ATTEMPTS"), 3),
			BreakerMinReqs: parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
			BreakerRatio:   parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor: parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
		},
		Kafka: KafkaConfig{
			Brokers: splitAndTrim(k.String("KAFKA_BROKERS")),
			Topic:   valueOrDefault(k.String("KAFKA_TOPIC"), "booking.payments"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "" {
		return errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
	}
	confirm := strings.TrimSpace(c.Payment.ConfirmSecret)
	webhook := strings.TrimSpace(c.Payment.WebhookSecret)
	if confirm == "" || webhook == "" {
		return errors.New("PAYMENT_CONFIRM_SECRET and PAYMENT_WEBHOOK_SECRET are required")
	}
	if confirm == webhook {
		return errors.New("PAYMENT_CONFIRM_SECRET and PAYMENT_WEBHOOK_SECRET must differ")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f < 0 || f > 1 {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
