package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	Client  ClientConfig
	Server  ServerConfig
	Logging LoggingConfig
}

// ClientConfig governs the API client and its local stores.
type ClientConfig struct {
	BaseURL       string
	UseMock       bool
	Timeout       time.Duration
	TokenFile     string
	MockStateFile string
}

// ServerConfig governs the local dev server.
type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
	JWTSecret         string
	TokenTTL          time.Duration
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

const (
	defaultBaseURL         = "http://localhost:8080"
	defaultClientTimeout   = 15 * time.Second
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultTokenTTL        = 24 * time.Hour
	defaultJWTSecret       = "dev-only-secret-change-me"
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"
)

// Load reads configuration from the environment, applying defaults. A .env
// file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Client: ClientConfig{
			BaseURL:       valueOrDefault("POINTLINK_API_URL", defaultBaseURL),
			UseMock:       parseBoolWithDefault("POINTLINK_USE_MOCK", false),
			Timeout:       defaultClientTimeout,
			TokenFile:     valueOrDefault("POINTLINK_TOKEN_FILE", defaultStatePath("token")),
			MockStateFile: valueOrDefault("POINTLINK_MOCK_STATE_FILE", defaultStatePath("mock-transactions.json")),
		},
		Server: ServerConfig{
			Host:              valueOrDefault("SERVER_HOST", defaultHost),
			ReadTimeout:       defaultReadTimeout,
			WriteTimeout:      defaultWriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
			ShutdownTimeout:   defaultShutdownTimeout,
			AllowedOriginsCSV: os.Getenv("SERVER_ALLOWED_ORIGINS"),
			JWTSecret:         valueOrDefault("POINTSD_JWT_SECRET", defaultJWTSecret),
			TokenTTL:          defaultTokenTTL,
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.Server.Port = port

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"POINTLINK_TIMEOUT", defaultClientTimeout, &cfg.Client.Timeout},
		{"POINTSD_TOKEN_TTL", defaultTokenTTL, &cfg.Server.TokenTTL},
		{"SERVER_READ_TIMEOUT", defaultReadTimeout, &cfg.Server.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", defaultWriteTimeout, &cfg.Server.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.Server.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.Server.ShutdownTimeout},
	}
	for _, d := range durations {
		parsed, err := parseDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = parsed
	}

	return cfg, nil
}

func defaultStatePath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pointlink", name)
	}
	return filepath.Join(home, ".pointlink", name)
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
