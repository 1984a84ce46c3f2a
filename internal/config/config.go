// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Picker backend ("osfs" or "s3", default: "osfs")
	PickerBackend string

	// OS filesystem picker
	BaseDir    string
	CreateDirs bool

	// S3 picker
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Baseline asset policy
	BaselineLimit int

	// Uploads
	MaxUploadSize int64

	// Watch the asset sub-directory for external changes
	WatchAssets bool

	// Auth (if JWTSecret is empty, the API runs without authentication)
	JWTSecret       string
	APIUsername     string
	APIPasswordHash string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:    envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:   envOr("METRICS_ADDR", ":9090"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "json"),
		PickerBackend: envOr("PICKER_BACKEND", "osfs"),
		BaseDir:       envOr("BASE_DIR", "/data/profiles"),
		CreateDirs:    envBool("CREATE_DIRS", true),
		S3Endpoint:    envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:      envOr("S3_BUCKET", "baselight"),
		S3Prefix:      envOr("S3_PREFIX", "profiles"),
		S3AccessKey:   envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:   envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:      envOr("S3_REGION", "us-east-1"),
		S3UseSSL:      envBool("S3_USE_SSL", false),
		BaselineLimit: envInt("BASELINE_LIMIT", 3),
		MaxUploadSize: envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB default
		WatchAssets:   envBool("WATCH_ASSETS", true),
		JWTSecret:     envOr("JWT_SECRET", ""),
		APIUsername:   envOr("API_USERNAME", "admin"),
		APIPasswordHash: envOr("API_PASSWORD_HASH", ""),
	}

	if cfg.BaselineLimit < 1 {
		return nil, fmt.Errorf("BASELINE_LIMIT must be at least 1")
	}
	if cfg.JWTSecret != "" && cfg.APIPasswordHash == "" {
		return nil, fmt.Errorf("API_PASSWORD_HASH is required when JWT_SECRET is set")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
