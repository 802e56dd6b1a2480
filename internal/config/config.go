// Package config loads configuration from environment variables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all media server configuration.
type Config struct {
	// Server
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// TLS
	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Storage backend ("local" or "s3")
	StorageBackend   string `envconfig:"STORAGE_BACKEND" default:"local"`
	LocalStoragePath string `envconfig:"LOCAL_STORAGE_PATH" default:"/data/media"`

	// S3 storage
	S3Endpoint  string `envconfig:"S3_ENDPOINT" default:"http://localhost:9000"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"media"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" default:"minioadmin"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" default:"minioadmin"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`

	// PublicBaseURL prefixes object keys to form the URL handed to clients.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:9000/media"`

	// Uploads
	MaxUploadSize     int64 `envconfig:"MAX_UPLOAD_SIZE" default:"20971520"` // 20MB, checked before optimization
	MaxFilesPerUpload int   `envconfig:"MAX_FILES_PER_UPLOAD" default:"25"`
	UploadConcurrency int   `envconfig:"UPLOAD_CONCURRENCY" default:"4"`

	// Image optimization
	DefaultPreset string `envconfig:"DEFAULT_PRESET" default:"web"`
	PresetsFile   string `envconfig:"PRESETS_FILE"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET"`

	// Requests per minute per account; 0 disables rate limiting.
	RateLimitRPM int `envconfig:"RATE_LIMIT_RPM" default:"0"`
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express as tags.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.StorageBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.MaxFilesPerUpload <= 0 {
		return fmt.Errorf("MAX_FILES_PER_UPLOAD must be positive")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = 1
	}
	return nil
}
