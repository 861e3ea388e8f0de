package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

// Config holds the shoot server configuration.
type Config struct {
	ServerPort      int           `env:"SERVER_PORT" envDefault:"8080"`
	ShootStore      string        `env:"SHOOT_STORE" envDefault:"memory"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	DynamoTable     string        `env:"DYNAMODB_TABLE" envDefault:"shoots"`
	DynamoEndpoint  string        `env:"DYNAMODB_ENDPOINT"`
	AWSRegion       string        `env:"AWS_REGION" envDefault:"eu-west-2"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint    string        `env:"OTEL_ENDPOINT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	R2              R2Config      `envPrefix:"R2_"`
}

// R2Config is optional. Without a bucket expired shoots are deleted without
// being archived.
type R2Config struct {
	AccountID       string `env:"ACCOUNT_ID"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	BucketName      string `env:"BUCKET_NAME"`
	Endpoint        string `env:"ENDPOINT"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	switch c.ShootStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL environment variable is not set")
		}
	case StoreDynamoDB:
		if c.DynamoTable == "" {
			return errors.New("DYNAMODB_TABLE environment variable is not set")
		}
	default:
		return fmt.Errorf("SHOOT_STORE must be one of memory, postgres, dynamodb, got %q", c.ShootStore)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

const (
	TransportRealtime = "realtime"
	TransportHTTP     = "http"
)

// ClientConfig configures the archer CLI.
type ClientConfig struct {
	ServerURL      string        `env:"ARCHER_SERVER_URL" envDefault:"http://localhost:8080"`
	SessionDB      string        `env:"ARCHER_SESSION_DB" envDefault:"archer-session.db"`
	Transport      string        `env:"ARCHER_TRANSPORT" envDefault:"realtime"`
	HTTPRetries    int           `env:"ARCHER_HTTP_RETRIES" envDefault:"3"`
	HTTPRetryDelay time.Duration `env:"ARCHER_HTTP_RETRY_DELAY" envDefault:"500ms"`
	ReconnectBase  time.Duration `env:"ARCHER_RECONNECT_BASE" envDefault:"1s"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"warn"`
}

func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("ARCHER_SERVER_URL must be an http(s) URL, got %q", cfg.ServerURL)
	}
	if cfg.Transport != TransportRealtime && cfg.Transport != TransportHTTP {
		return nil, fmt.Errorf("ARCHER_TRANSPORT must be realtime or http, got %q", cfg.Transport)
	}
	if cfg.HTTPRetries < 0 {
		return nil, fmt.Errorf("ARCHER_HTTP_RETRIES must not be negative, got %d", cfg.HTTPRetries)
	}
	if cfg.ReconnectBase <= 0 {
		return nil, fmt.Errorf("ARCHER_RECONNECT_BASE must be positive, got %s", cfg.ReconnectBase)
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WebSocketURL derives the realtime endpoint from the server URL.
func (c *ClientConfig) WebSocketURL() string {
	u, _ := url.Parse(c.ServerURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
