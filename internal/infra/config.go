package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DataPath         string
	StoragePath      string
	StorageBaseURL   string
	CORSOrigins      []string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiBaseURL    string
	FlushInterval    time.Duration
	HeartbeatEvery   time.Duration
	MaxChainDepth    int
	DirectionCount   int
	ProgressTick     time.Duration
	VideoPollEvery   time.Duration
	VideoPollMax     int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DataPath:         getEnv("DATA_PATH", "./data/sessions"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:   "",
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		FlushInterval:    time.Second * time.Duration(getEnvInt("FLUSH_INTERVAL_SECONDS", 30)),
		HeartbeatEvery:   time.Second * time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 30)),
		MaxChainDepth:    getEnvInt("MAX_CHAIN_DEPTH", 5),
		DirectionCount:   getEnvInt("DIRECTION_COUNT", 6),
		ProgressTick:     time.Millisecond * time.Duration(getEnvInt("PROGRESS_TICK_MS", 800)),
		VideoPollEvery:   time.Second * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_SECONDS", 5)),
		VideoPollMax:     getEnvInt("VIDEO_POLL_MAX_ATTEMPTS", 60),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 120)),
	}

	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", cfg.Port))

	if cfg.MaxChainDepth < 1 {
		return nil, fmt.Errorf("MAX_CHAIN_DEPTH must be at least 1")
	}
	if cfg.FlushInterval <= 0 {
		return nil, fmt.Errorf("FLUSH_INTERVAL_SECONDS must be positive")
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

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
