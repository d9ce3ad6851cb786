package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sitephoto/storage"
	"sitephoto/utils"
)

// Storage backends
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Upload   UploadConfig
	Log      LogConfig
	Scan     ScanConfig
}

type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr joins host and port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type DatabaseConfig struct {
	Path string
}

type StorageConfig struct {
	Backend  string
	LocalDir string
	S3       storage.S3Config
}

type UploadConfig struct {
	MaxUploadSize   int64
	DuplicateWindow time.Duration
}

type LogConfig struct {
	Level       string
	File        string
	Development bool
}

type ScanConfig struct {
	Workers int
}

// New returns a viper instance with defaults set and environment lookup enabled
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("DB_PATH", utils.GetDefaultDatabasePath())
	v.SetDefault("STORAGE_BACKEND", BackendLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_USE_SSL", true)
	v.SetDefault("S3_BUCKET_NAME", "site-photos")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("UPLOAD_MAX_SIZE", 10*1024*1024) // 10MB
	v.SetDefault("DUPLICATE_WINDOW", 24*time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("SCAN_WORKERS", utils.GetOptimalProcs())

	v.AutomaticEnv()

	return v
}

// LoadDotEnv loads variables from .env style files that exist. Variables
// already present in the environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// Load reads the configuration from v
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetString("SERVER_PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("DB_PATH"),
		},
		Storage: StorageConfig{
			Backend:  v.GetString("STORAGE_BACKEND"),
			LocalDir: v.GetString("STORAGE_LOCAL_DIR"),
			S3: storage.S3Config{
				Endpoint:        v.GetString("S3_ENDPOINT"),
				AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
				SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
				UseSSL:          v.GetBool("S3_USE_SSL"),
				Bucket:          v.GetString("S3_BUCKET_NAME"),
				Region:          v.GetString("S3_REGION"),
			},
		},
		Upload: UploadConfig{
			MaxUploadSize:   v.GetInt64("UPLOAD_MAX_SIZE"),
			DuplicateWindow: v.GetDuration("DUPLICATE_WINDOW"),
		},
		Log: LogConfig{
			Level:       v.GetString("LOG_LEVEL"),
			File:        v.GetString("LOG_FILE"),
			Development: v.GetBool("LOG_DEVELOPMENT"),
		},
		Scan: ScanConfig{
			Workers: v.GetInt("SCAN_WORKERS"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("STORAGE_LOCAL_DIR is required for the local backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("S3_BUCKET_NAME is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Upload.MaxUploadSize <= 0 {
		return fmt.Errorf("UPLOAD_MAX_SIZE must be positive, got %d", c.Upload.MaxUploadSize)
	}
	if c.Upload.DuplicateWindow <= 0 {
		return fmt.Errorf("DUPLICATE_WINDOW must be positive, got %s", c.Upload.DuplicateWindow)
	}
	if c.Scan.Workers < 1 {
		c.Scan.Workers = 1
	}

	return nil
}
