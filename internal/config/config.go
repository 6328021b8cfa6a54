// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Rotation modes for telemetry logs.
const (
	RotationArchive = "archive"
	RotationDelete  = "delete"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	GRPCHealthPort string
	AllowedOrigin  string
	APIKey         string
	AssetsDir      string
	DBPath         string
	SessionLog     SessionLogConfig
	Generation     GenerationConfig
	Jobs           JobsConfig
	LLM            LLMConfig
	RateLimit      RateLimitConfig
}

// SessionLogConfig controls session telemetry files.
type SessionLogConfig struct {
	Dir       string
	MaxBytes  int64
	IdleFlush time.Duration
	Rotation  string
}

// GenerationConfig controls the image acquisition retry loop.
type GenerationConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// JobsConfig controls the asynchronous job worker pool.
type JobsConfig struct {
	Workers    int
	QueueSize  int
	Retention  time.Duration
	SweepEvery time.Duration
}

// LLMConfig holds model provider credentials.
type LLMConfig struct {
	OpenAIAPIKey     string
	OpenAIModel      string
	GoogleAPIKey     string
	GeminiImageModel string
}

// RateLimitConfig bounds preview/generate calls per session.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	assetsDir := getEnv("ASSETS_DIR", "./assets")

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		GRPCHealthPort: getEnv("GRPC_HEALTH_PORT", ""),
		AllowedOrigin:  getEnv("ALLOWED_ORIGIN", "*"),
		APIKey:         getEnv("API_KEY", ""),
		AssetsDir:      assetsDir,
		DBPath:         getEnv("DB_PATH", "./data/boards.db"),
		SessionLog: SessionLogConfig{
			Dir:       getEnv("SESSION_LOG_DIR", assetsDir+"/logs"),
			MaxBytes:  int64(getEnvInt("SESSION_LOG_MAX_BYTES", 50*1024*1024)),
			IdleFlush: getEnvDuration("SESSION_LOG_IDLE_FLUSH", 30*time.Minute),
			Rotation:  strings.ToLower(getEnv("SESSION_LOG_ROTATION", RotationArchive)),
		},
		Generation: GenerationConfig{
			MaxAttempts:  getEnvInt("GENERATION_MAX_ATTEMPTS", 2),
			RetryBackoff: getEnvDuration("GENERATION_RETRY_BACKOFF", time.Second),
		},
		Jobs: JobsConfig{
			Workers:    getEnvInt("JOB_WORKERS", 4),
			QueueSize:  getEnvInt("JOB_QUEUE_SIZE", 32),
			Retention:  getEnvDuration("JOB_RETENTION", time.Hour),
			SweepEvery: getEnvDuration("JOB_SWEEP_INTERVAL", 5*time.Minute),
		},
		LLM: LLMConfig{
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			GoogleAPIKey:     getEnv("GOOGLE_GENAI_API_KEY", ""),
			GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AssetsDir == "" {
		return fmt.Errorf("ASSETS_DIR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionLog.Dir == "" {
		return fmt.Errorf("SESSION_LOG_DIR cannot be empty")
	}
	if c.SessionLog.MaxBytes <= 0 {
		return fmt.Errorf("SESSION_LOG_MAX_BYTES must be > 0")
	}
	if c.SessionLog.IdleFlush <= 0 {
		return fmt.Errorf("SESSION_LOG_IDLE_FLUSH must be > 0")
	}
	if c.SessionLog.Rotation != RotationArchive && c.SessionLog.Rotation != RotationDelete {
		return fmt.Errorf("SESSION_LOG_ROTATION must be %q or %q", RotationArchive, RotationDelete)
	}
	if c.Generation.MaxAttempts <= 0 {
		return fmt.Errorf("GENERATION_MAX_ATTEMPTS must be > 0")
	}
	if c.Generation.RetryBackoff < 0 {
		return fmt.Errorf("GENERATION_RETRY_BACKOFF cannot be negative")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be > 0")
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("JOB_QUEUE_SIZE cannot be negative")
	}
	if c.Jobs.Retention <= 0 || c.Jobs.SweepEvery <= 0 {
		return fmt.Errorf("JOB_RETENTION and JOB_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true when CORS is left open.
func (c *Config) IsDevelopment() bool {
	return c.AllowedOrigin == "" || c.AllowedOrigin == "*" ||
		strings.Contains(c.AllowedOrigin, "localhost") ||
		strings.Contains(c.AllowedOrigin, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
