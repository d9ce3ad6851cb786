package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxUploadSize)
	assert.Equal(t, 24*time.Hour, cfg.Upload.DuplicateWindow)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.GreaterOrEqual(t, cfg.Scan.Workers, 1)
	assert.NotEmpty(t, cfg.Database.Path)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET_NAME", "field-photos")
	t.Setenv("S3_USE_SSL", "false")
	t.Setenv("DUPLICATE_WINDOW", "2h")
	t.Setenv("SCAN_WORKERS", "0")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, BackendS3, cfg.Storage.Backend)
	assert.Equal(t, "field-photos", cfg.Storage.S3.Bucket)
	assert.False(t, cfg.Storage.S3.UseSSL)
	assert.Equal(t, 2*time.Hour, cfg.Upload.DuplicateWindow)
	assert.Equal(t, 1, cfg.Scan.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown backend":  {"STORAGE_BACKEND": "ftp"},
		"missing bucket":   {"STORAGE_BACKEND": "s3", "S3_BUCKET_NAME": ""},
		"missing dir":      {"STORAGE_LOCAL_DIR": ""},
		"zero upload size": {"UPLOAD_MAX_SIZE": "0"},
		"negative window":  {"DUPLICATE_WINDOW": "-1h"},
	}

	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			v := New()
			for key, value := range overrides {
				v.Set(key, value)
			}
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SITEPHOTO_TEST_DOTENV=from-file\nSITEPHOTO_TEST_KEEP=from-file\n"), 0644))

	t.Setenv("SITEPHOTO_TEST_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("SITEPHOTO_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("SITEPHOTO_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("SITEPHOTO_TEST_KEEP"))
}
