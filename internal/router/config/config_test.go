package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	content := "SERVER_ADDRESS=127.0.0.1:9000\n" +
		"STORAGE_DRIVER=memory\n" +
		"LOCK_TIMEOUT=100ms\n" +
		"MAX_IMAGE_BYTES=1024\n" +
		"LOG_FORMAT=console\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ServerAddress)
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, 100*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, int64(1024), cfg.MaxImageBytes)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 64, cfg.SubscriptionBuffer)
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, "file://migrations", cfg.MigrationURL)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{StorageDriver: DriverMemory, LockTimeout: time.Second, RequestTimeout: time.Second}
	assert.NoError(t, valid.Validate())

	noConn := valid
	noConn.StorageDriver = DriverPostgres
	assert.Error(t, noConn.Validate())

	unknown := valid
	unknown.StorageDriver = "sqlite"
	assert.Error(t, unknown.Validate())

	noTTL := valid
	noTTL.RedisURL = "redis://localhost:6379"
	assert.Error(t, noTTL.Validate())
}
