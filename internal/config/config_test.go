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
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 5*time.Minute, cfg.TemporaryCartWindow)
	assert.Equal(t, 15*time.Minute, cfg.SessionWindow)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartd.yaml")
	yml := `
http_port: "9090"
storage_backend: redis
redis_addr: cache:6379
temp_cart_window: 2m
kafka_brokers: [k1:9092]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("REDIS_ADDR", "override:6379")
	t.Setenv("SESSION_WINDOW", "20m")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, BackendRedis, cfg.StorageBackend)
	assert.Equal(t, "override:6379", cfg.RedisAddr)
	assert.Equal(t, 2*time.Minute, cfg.TemporaryCartWindow)
	assert.Equal(t, 20*time.Minute, cfg.SessionWindow)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad backend", func(t *testing.T) {
		t.Setenv("STORAGE_BACKEND", "indexeddb")
		_, err := Load("")
		assert.ErrorContains(t, err, "unknown storage backend")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("TEMP_CART_WINDOW", "five minutes")
		_, err := Load("")
		assert.ErrorContains(t, err, "invalid TEMP_CART_WINDOW")
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("http_port: [unterminated"), 0o600))
		_, err := Load(path)
		assert.ErrorContains(t, err, "error while parsing config file")
	})
}
