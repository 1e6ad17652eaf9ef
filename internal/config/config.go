// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendDrive = "drive"
	BackendMinio = "minio"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port      string
	AppEnv    string
	LogLevel  string
	LogFormat string

	// Destination folder (Drive) or bucket (S3) for uploads.
	FolderID       string
	StorageBackend string

	// Drive service identity
	ServiceAccountEmail string
	ServiceAccountKey   string // PEM; "\n" escapes are allowed
	TokenURL            string
	DriveEndpoint       string // optional API base URL override
	TokenCache          bool

	// S3-compatible backend (MinIO locally, any S3 provider in production)
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageUseSSL    bool

	MaxUploadBytes    int64 // 0 = unlimited
	UploadMemoryBytes int64
	CORSOrigins       []string
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		FolderID:       os.Getenv("FOLDER_ID"),
		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendDrive)),

		ServiceAccountEmail: os.Getenv("SERVICE_ACCOUNT_EMAIL"),
		ServiceAccountKey:   os.Getenv("SERVICE_ACCOUNT_KEY"),
		TokenURL:            os.Getenv("TOKEN_URL"), // empty selects the Google endpoint
		DriveEndpoint:       os.Getenv("DRIVE_ENDPOINT"),
		TokenCache:          getEnv("TOKEN_CACHE", "false") == "true",

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageUseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",

		MaxUploadBytes:    getEnvInt64("MAX_UPLOAD_BYTES", 0),
		UploadMemoryBytes: getEnvInt64("UPLOAD_MEMORY_BYTES", 32<<20),
		CORSOrigins:       strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
	}

	// Production logs are machine-read by default.
	defaultFormat := "text"
	if cfg.IsProduction() {
		defaultFormat = "json"
	}
	cfg.LogFormat = getEnv("LOG_FORMAT", defaultFormat)
	return cfg
}

// Validate reports missing or inconsistent settings. A non-nil error is fatal at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.FolderID == "" {
		errs = append(errs, errors.New("FOLDER_ID is required"))
	}

	switch c.StorageBackend {
	case BackendDrive:
		if c.ServiceAccountEmail == "" {
			errs = append(errs, errors.New("SERVICE_ACCOUNT_EMAIL is required"))
		}
		if c.ServiceAccountKey == "" {
			errs = append(errs, errors.New("SERVICE_ACCOUNT_KEY is required"))
		}
	case BackendMinio:
		if c.StorageEndpoint == "" {
			errs = append(errs, errors.New("STORAGE_ENDPOINT is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of: %s, %s", BackendDrive, BackendMinio))
	}

	if c.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must not be negative"))
	}
	return errors.Join(errs...)
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", v)
		return fallback
	}
	return n
}
