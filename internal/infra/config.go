package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	StoragePath    string
	StorageBaseURL string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	BatchConcurrency int
	BatchMaxSize     int
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	GenerateRPM      int

	JobRetention    time.Duration
	FeedInterval    time.Duration
	FeedMaxDuration time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           port,
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 2),
		BatchMaxSize:     getEnvInt("BATCH_MAX_SIZE", 10),
		MaxAttempts:      getEnvInt("GENERATE_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   time.Second * time.Duration(getEnvInt("RETRY_BASE_DELAY_SECONDS", 1)),
		GenerateRPM:      getEnvInt("GENERATE_RPM", 0),

		JobRetention:    time.Hour * time.Duration(getEnvInt("JOB_RETENTION_HOURS", 24)),
		FeedInterval:    time.Millisecond * time.Duration(getEnvInt("FEED_INTERVAL_MS", 500)),
		FeedMaxDuration: time.Second * time.Duration(getEnvInt("FEED_MAX_DURATION_SECONDS", 300)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.BatchConcurrency <= 0 {
		return nil, fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}
	if cfg.BatchMaxSize <= 0 {
		return nil, fmt.Errorf("BATCH_MAX_SIZE must be positive")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("GENERATE_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
