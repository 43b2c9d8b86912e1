package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Aisthesis dashboard.
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Poll     PollConfig
	History  HistoryConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Upload   UploadConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	LogLevel       slog.Level
	AllowedOrigins []string
}

// BackendConfig describes the remote analysis backend.
type BackendConfig struct {
	BaseURL string
	// Token is used when no request carries one, e.g. periodic reconciliation.
	Token   string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

type PollConfig struct {
	Interval             time.Duration
	MaxAttempts          int
	ReconcileInterval    time.Duration
	ReconcileConcurrency int
}

// Storage backends for the durable job index.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type HistoryConfig struct {
	Backend string
	File    string
	Key     string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type UploadConfig struct {
	MaxBytes          int64
	AllowedExtensions []string
	RatePerMinute     int
}

var validBackends = map[string]bool{
	BackendFile:     true,
	BackendMemory:   true,
	BackendRedis:    true,
	BackendPostgres: true,
}

// Load reads configuration from the environment, after loading any .env file in
// the working directory, and returns a validated Config.
// Variables already present in the environment take precedence over .env values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("DASHBOARD_PORT", 8080),
			Env:            envString("DASHBOARD_ENV", "development"),
			LogLevel:       envLevel("LOG_LEVEL", slog.LevelInfo),
			AllowedOrigins: envList("ALLOWED_ORIGINS", nil),
		},
		Backend: BackendConfig{
			BaseURL: os.Getenv("AISTHESIS_API_URL"),
			Token:   os.Getenv("AISTHESIS_API_TOKEN"),
			Timeout: envDuration("AISTHESIS_API_TIMEOUT", 30*time.Second),
			RPS:     envFloat("AISTHESIS_API_RPS", 0),
			Burst:   envInt("AISTHESIS_API_BURST", 10),
		},
		Poll: PollConfig{
			Interval:             envDuration("POLL_INTERVAL", 2*time.Second),
			MaxAttempts:          envInt("POLL_MAX_ATTEMPTS", 90),
			ReconcileInterval:    envDuration("RECONCILE_INTERVAL", 0),
			ReconcileConcurrency: envInt("RECONCILE_CONCURRENCY", 0),
		},
		History: HistoryConfig{
			Backend: strings.ToLower(envString("HISTORY_BACKEND", BackendFile)),
			File:    envString("HISTORY_FILE", "./data/history.json"),
			Key:     envString("HISTORY_KEY", "aisthesis_analysis_history"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Upload: UploadConfig{
			MaxBytes:          int64(envInt("UPLOAD_MAX_BYTES", 10<<20)),
			AllowedExtensions: envList("UPLOAD_ALLOWED_EXTENSIONS", []string{"jpg", "jpeg", "png", "webp"}),
			RatePerMinute:     envInt("UPLOAD_RATE_PER_MINUTE", 20),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("AISTHESIS_API_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("AISTHESIS_API_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive, got %d", c.Poll.MaxAttempts)
	}

	if !validBackends[c.History.Backend] {
		return fmt.Errorf("HISTORY_BACKEND must be one of file, memory, redis, postgres; got %q", c.History.Backend)
	}
	if c.History.Key == "" {
		return fmt.Errorf("HISTORY_KEY must not be empty")
	}
	if c.History.Backend == BackendFile && c.History.File == "" {
		return fmt.Errorf("HISTORY_FILE is required when HISTORY_BACKEND is file")
	}
	if c.History.Backend == BackendRedis && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when HISTORY_BACKEND is redis")
	}
	if c.History.Backend == BackendPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when HISTORY_BACKEND is postgres")
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.Upload.MaxBytes)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return lvl
}
