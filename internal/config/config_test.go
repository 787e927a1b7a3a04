package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join("./data/surrogate", "storage"), cfg.Storage.Path)
	assert.True(t, cfg.Codec.Compress)
	assert.Equal(t, "snapshots/", cfg.Archive.Prefix)
	assert.Equal(t, filepath.Join("./data/surrogate", "cache"), cfg.Storage.CachePath)
	assert.Equal(t, 5*time.Minute, cfg.Source.Timeout)
}

func TestResolveAddsPrefixSlash(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archive.Prefix = "backups"
	cfg.Resolve()
	assert.Equal(t, "backups/", cfg.Archive.Prefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"bad storage type", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"small part size", func(c *Config) { c.Storage.S3.PartSizeMB = 1 }},
		{"negative cache", func(c *Config) { c.Storage.CacheMB = -1 }},
		{"zero concurrency", func(c *Config) { c.Archive.Concurrency = 0 }},
		{"unknown driver", func(c *Config) { c.Source.Driver = "oracle" }},
		{"negative max rows", func(c *Config) { c.Source.MaxRows = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsDriverAlias(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source.Driver = "postgresql"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surrogate.yaml")
	data := `
data_dir: /var/lib/surrogate
codec:
  compress: false
storage:
  type: s3
  s3:
    bucket: snaps
    endpoint: http://localhost:9000
    use_path_style: true
source:
  driver: mysql
  dsn: user:pass@tcp(localhost:3306)/shop
  tables: [orders, customers]
  timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/surrogate", cfg.DataDir)
	assert.False(t, cfg.Codec.Compress)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "snaps", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	// Unset keys keep their defaults.
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	assert.Equal(t, 4, cfg.Archive.Concurrency)
	assert.Equal(t, []string{"orders", "customers"}, cfg.Source.Tables)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surrogate.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data_dir":"/tmp/s","archive":{"prefix":"x/","concurrency":2}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/s", cfg.DataDir)
	assert.Equal(t, "x/", cfg.Archive.Prefix)
	assert.Equal(t, 2, cfg.Archive.Concurrency)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "surrogate.toml")
	require.NoError(t, os.WriteFile(toml, []byte("x = 1"), 0644))
	_, err = LoadFromFile(toml)
	assert.ErrorContains(t, err, "unsupported config file format")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("storage: [unclosed"), 0644))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "failed to parse YAML config")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SURROGATE_DATA_DIR", "/env/data")
	t.Setenv("SURROGATE_COMPRESS", "false")
	t.Setenv("SURROGATE_ARCHIVE_CONCURRENCY", "8")
	t.Setenv("SURROGATE_STORAGE_TYPE", "s3")
	t.Setenv("SURROGATE_S3_BUCKET", "env-bucket")
	t.Setenv("SURROGATE_S3_USE_PATH_STYLE", "1")
	t.Setenv("SURROGATE_SOURCE_DRIVER", "postgres")
	t.Setenv("SURROGATE_SOURCE_DSN", "postgres://localhost/shop")
	t.Setenv("SURROGATE_SOURCE_MAX_ROWS", "100")
	t.Setenv("SURROGATE_SOURCE_TIMEOUT", "not-a-duration")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "/env/data", cfg.DataDir)
	assert.False(t, cfg.Codec.Compress)
	assert.Equal(t, 8, cfg.Archive.Concurrency)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "env-bucket", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	assert.Equal(t, "postgres", cfg.Source.Driver)
	assert.Equal(t, "postgres://localhost/shop", cfg.Source.DSN)
	assert.Equal(t, 100, cfg.Source.MaxRows)
	assert.Equal(t, 5*time.Minute, cfg.Source.Timeout)
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.Storage.Path} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
