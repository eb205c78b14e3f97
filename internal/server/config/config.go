package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                string
	DatabaseURL         string // empty selects the in-memory registry
	StoragePath         string
	ChunkSize           int
	DefaultTTL          time.Duration
	MaxTTL              time.Duration // cap on per-request TTL overrides
	MaxDownloads        int           // default download budget per transfer
	MaxDownloadsCeiling int           // cap on per-request budget overrides
	MaxUploadSize       int64
	RateLimitWindow     time.Duration
	RateLimitAttempts   int
	SweepInterval       time.Duration
	BaseURL             string
}

func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		StoragePath:         getEnv("STORAGE_PATH", "./storage/blobs"),
		ChunkSize:           getEnvInt("CHUNK_SIZE", 1024*1024), // 1MB
		DefaultTTL:          getEnvDuration("DEFAULT_TTL_HOURS", 24*time.Hour),
		MaxTTL:              getEnvDuration("MAX_TTL_HOURS", 7*24*time.Hour),
		MaxDownloads:        getEnvInt("MAX_DOWNLOADS", 1),
		MaxDownloadsCeiling: getEnvInt("MAX_DOWNLOADS_CEILING", 100),
		MaxUploadSize:       getEnvInt64("MAX_UPLOAD_SIZE", 0), // 0 = unlimited
		RateLimitWindow:     getEnvSeconds("RATE_LIMIT_WINDOW_SECONDS", time.Minute),
		RateLimitAttempts:   getEnvInt("RATE_LIMIT_ATTEMPTS", 5),
		SweepInterval:       getEnvSeconds("SWEEP_INTERVAL_SECONDS", 10*time.Minute),
		BaseURL:             getEnv("BASE_URL", "http://localhost:8080"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if hours, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(hours * float64(time.Hour))
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return fallback
}
