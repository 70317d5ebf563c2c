package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"1m"`
	MaxParallel     int           `envconfig:"MAX_PARALLEL" default:"5"`
	RetentionPeriod time.Duration `envconfig:"RETENTION_PERIOD" default:"168h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	WebhookURL      string        `envconfig:"WEBHOOK_URL"`

	Store struct {
		Driver string `split_words:"true" default:"sqlite"`
		DSN    string `envconfig:"DSN" default:"downloads.db"`
	}

	Worker struct {
		Driver  string        `split_words:"true" default:"http"`
		BaseURL string        `split_words:"true"`
		Token   string        `split_words:"true"`
		Timeout time.Duration `split_words:"true" default:"30s"`
	}

	AMQP struct {
		URL      string `envconfig:"URL"`
		Exchange string `split_words:"true"`
		Queue    string `split_words:"true" default:"downloads.dispatch"`
	}

	Retry struct {
		BaseDelay   time.Duration `split_words:"true" default:"30s"`
		MaxDelay    time.Duration `split_words:"true" default:"1h"`
		MaxAttempts int           `split_words:"true" default:"5"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		Exporter     string `split_words:"true" default:"prometheus"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
		ServiceName  string `split_words:"true" default:"vod-pipeline"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
// A .env file in the working directory is loaded first when present, so
// local development doesn't need exported variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}

	switch c.Worker.Driver {
	case "http":
		if c.Worker.BaseURL == "" {
			return fmt.Errorf("WORKER_BASE_URL is required for the http worker driver")
		}
	case "amqp":
		if c.AMQP.URL == "" {
			return fmt.Errorf("AMQP_URL is required for the amqp worker driver")
		}
	default:
		return fmt.Errorf("invalid worker driver: %s", c.Worker.Driver)
	}

	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive")
	}

	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must not be below RETRY_BASE_DELAY")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.MaxParallel < 1 {
		return fmt.Errorf("MAX_PARALLEL must be at least 1")
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
