package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no config file is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Scene.MaxRetries)
	assert.Equal(t, 5*time.Millisecond, cfg.Scene.RetryBackoff)
	assert.Zero(t, cfg.Lock.TTL, "locks never expire by default")
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, int64(1<<20), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "redis", cfg.PubSub.Driver)
	assert.Equal(t, "scene-events", cfg.PubSub.Kafka.Topic)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_ADDRESS", "cache:6380")
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("PUBSUB_DRIVER", "kafka")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("LOCK_TTL", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "cache:6380", cfg.Redis.Address)
	assert.Equal(t, "s3cret", cfg.Session.Secret)
	assert.Equal(t, "kafka", cfg.PubSub.Driver)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Lock.TTL)
}

func TestLoadFile(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.yaml"), []byte(`
scene:
  max_retries: 4
lock:
  ttl: 30s
websocket:
  ping_interval: 15s
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Scene.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
}
