// Package config provides configuration for the surrogate CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/surrogate/internal/sqlsource"
)

// Config holds the configuration for capturing and restoring snapshots.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Codec configuration
	Codec CodecConfig `json:"codec" yaml:"codec"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Source database configuration
	Source SourceConfig `json:"source" yaml:"source"`
}

// CodecConfig holds encoding options.
type CodecConfig struct {
	// Compress snappy-compresses snapshot payloads
	Compress bool `json:"compress" yaml:"compress"`
}

// ArchiveConfig holds snapshot archive options.
type ArchiveConfig struct {
	// Prefix is the key prefix snapshots are stored under
	Prefix string `json:"prefix" yaml:"prefix"`

	// Concurrency bounds parallel fetches when listing snapshots
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// CacheMB bounds the local cache of fetched remote objects; 0 disables it
	CacheMB int `json:"cache_mb" yaml:"cache_mb"`

	// CachePath is the cache directory (default: DataDir/cache)
	CachePath string `json:"cache_path" yaml:"cache_path"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`

	// PartSizeMB is the multipart upload part size (5–5120, default 5)
	PartSizeMB int `json:"part_size_mb" yaml:"part_size_mb"`
}

// SourceConfig holds the database snapshots are captured from and restored to.
type SourceConfig struct {
	// Driver is one of sqlite3, postgres, mysql or an alias of one
	Driver string `json:"driver" yaml:"driver"`

	// DSN is the driver-specific connection string
	DSN string `json:"dsn" yaml:"dsn"`

	// Tables restricts capture to the listed tables
	Tables []string `json:"tables" yaml:"tables"`

	// MaxRows caps rows captured per table; 0 means no cap
	MaxRows int `json:"max_rows" yaml:"max_rows"`

	// Timeout bounds a whole capture or restore
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the default configuration for local use.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/surrogate",
		Codec: CodecConfig{
			Compress: true,
		},
		Archive: ArchiveConfig{
			Prefix:      "snapshots/",
			Concurrency: 4,
		},
		Storage: StorageConfig{
			Type:    "local",
			Path:    "",
			CacheMB: 256,
			S3: S3Config{
				Region:     "us-east-1",
				PartSizeMB: 5,
			},
		},
		Source: SourceConfig{
			Driver:  "sqlite3",
			Timeout: 5 * time.Minute,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/surrogate"
	}

	// Resolve storage path
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Storage.CachePath == "" {
		c.Storage.CachePath = filepath.Join(c.DataDir, "cache")
	}

	if c.Source.Timeout <= 0 {
		c.Source.Timeout = 5 * time.Minute
	}

	if c.Archive.Prefix != "" && !strings.HasSuffix(c.Archive.Prefix, "/") {
		c.Archive.Prefix += "/"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Storage.S3.PartSizeMB < 5 || c.Storage.S3.PartSizeMB > 5120 {
		return fmt.Errorf("storage.s3.part_size_mb must be between 5 and 5120, got %d", c.Storage.S3.PartSizeMB)
	}

	if c.Storage.CacheMB < 0 {
		return fmt.Errorf("storage.cache_mb must not be negative, got %d", c.Storage.CacheMB)
	}

	if c.Archive.Concurrency < 1 {
		return fmt.Errorf("archive.concurrency must be positive, got %d", c.Archive.Concurrency)
	}

	if _, err := sqlsource.ParseDialect(c.Source.Driver); err != nil {
		return fmt.Errorf("invalid source driver: %s (must be sqlite3, postgres, or mysql)", c.Source.Driver)
	}

	if c.Source.MaxRows < 0 {
		return fmt.Errorf("source.max_rows must not be negative, got %d", c.Source.MaxRows)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SURROGATE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SURROGATE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Codec configuration
	if v := os.Getenv("SURROGATE_COMPRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Codec.Compress = b
		}
	}

	// Archive configuration
	if v := os.Getenv("SURROGATE_ARCHIVE_PREFIX"); v != "" {
		cfg.Archive.Prefix = v
	}
	if v := os.Getenv("SURROGATE_ARCHIVE_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Archive.Concurrency)
	}

	// Storage configuration
	if v := os.Getenv("SURROGATE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("SURROGATE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SURROGATE_CACHE_MB"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Storage.CacheMB)
	}
	if v := os.Getenv("SURROGATE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("SURROGATE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("SURROGATE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("SURROGATE_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	// Source configuration
	if v := os.Getenv("SURROGATE_SOURCE_DRIVER"); v != "" {
		cfg.Source.Driver = v
	}
	if v := os.Getenv("SURROGATE_SOURCE_DSN"); v != "" {
		cfg.Source.DSN = v
	}
	if v := os.Getenv("SURROGATE_SOURCE_MAX_ROWS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Source.MaxRows)
	}
	if v := os.Getenv("SURROGATE_SOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Source.Timeout = d
		}
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	} else if c.Storage.CacheMB > 0 {
		dirs = append(dirs, c.Storage.CachePath)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
