package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
server:
  name: lab-hub
  addr: ":9000"
  path: /ws
  queue_size: 32
  max_dropped_frames: 0
  ping_interval: 5s
parameters:
  /robot_description: "<robot/>"
relay:
  enabled: true
  presence: true
  redis:
    addr: redis:6379
    db: 2
  routes:
    - source: robot-state
      topic: /state
      encoding: json
      latching: true
logging:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lab-hub", cfg.Server.Name)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, 32, cfg.Server.QueueSize)
	assert.Equal(t, 0, cfg.Server.MaxDroppedFrames)
	assert.Equal(t, 5*time.Second, cfg.Server.PingInterval)
	assert.Equal(t, map[string]string{"/robot_description": "<robot/>"}, cfg.Parameters)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, RedisConfig{Addr: "redis:6379", DB: 2}, cfg.Relay.Redis)
	require.Len(t, cfg.Relay.Routes, 1)
	assert.Equal(t, RouteConfig{Source: "robot-state", Topic: "/state", Encoding: "json", Latching: true}, cfg.Relay.Routes[0])
	assert.Equal(t, LoggingConfig{Level: "debug", Format: "console"}, cfg.Logging)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "demo: true\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Demo)
	assert.Equal(t, DefaultName, cfg.Server.Name)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPath, cfg.Server.Path)
	assert.Equal(t, DefaultMetricsPath, cfg.Server.MetricsPath)
	assert.Equal(t, DefaultQueueSize, cfg.Server.QueueSize)
	assert.Equal(t, DefaultMaxDroppedFrames, cfg.Server.MaxDroppedFrames)
	assert.Equal(t, DefaultActivityTimeout, cfg.Server.ActivityTimeout)
	assert.Equal(t, DefaultRedisAddr, cfg.Relay.Redis.Addr)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FOXHUB_SERVER_ADDR", ":7000")
	t.Setenv("FOXHUB_SERVER_WRITE_TIMEOUT", "2s")
	t.Setenv("FOXHUB_RELAY_REDIS_PASSWORD", "secret")
	t.Setenv("FOXHUB_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "server:\n  addr: \":9000\"\n  queue_size: 20\n"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Server.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "secret", cfg.Relay.Redis.Password)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadEnvFile(t *testing.T) {
	// Register cleanup for both variables, then start from unset.
	t.Setenv("FOXHUB_SERVER_NAME", "")
	t.Setenv("FOXHUB_SERVER_QUEUE_SIZE", "64")
	require.NoError(t, os.Unsetenv("FOXHUB_SERVER_NAME"))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOXHUB_SERVER_NAME=from-dotenv\nFOXHUB_SERVER_QUEUE_SIZE=5\n"), 0o600))
	require.NoError(t, LoadEnvFile(path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Server.Name)
	assert.Equal(t, 64, cfg.Server.QueueSize)

	require.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad path", "server:\n  path: ws\n", "server.path"},
		{"metrics clash", "server:\n  path: /metrics\n", "metrics_path"},
		{"zero queue", "server:\n  queue_size: 0\n", "queue_size"},
		{"negative drops", "server:\n  max_dropped_frames: -1\n", "max_dropped_frames"},
		{"log level", "logging:\n  level: loud\n", "logging.level"},
		{"log format", "logging:\n  format: xml\n", "logging.format"},
		{"route topic", "relay:\n  routes:\n    - source: a\n      encoding: json\n", "topic is required"},
		{"route encoding", "relay:\n  routes:\n    - source: a\n      topic: /a\n", "encoding is required"},
		{"yaml", "server: [", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "parameters:\n  a: \"1\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var latest *Config
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.NewNop(), func(cfg *Config) {
			mu.Lock()
			latest = cfg
			mu.Unlock()
		})
	}()

	// Keep rewriting until the watcher is registered and sees a change.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("parameters:\n  a: \"2\"\n"), 0o600)
		mu.Lock()
		defer mu.Unlock()
		return latest != nil && latest.Parameters["a"] == "2"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_ReloadsOnAtomicSave(t *testing.T) {
	path := writeConfig(t, "parameters:\n  a: \"1\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var latest *Config
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.NewNop(), func(cfg *Config) {
			mu.Lock()
			latest = cfg
			mu.Unlock()
		})
	}()

	save := func(value string) {
		tmp := filepath.Join(filepath.Dir(path), ".config.yaml.tmp")
		_ = os.WriteFile(tmp, []byte("parameters:\n  a: \""+value+"\"\n"), 0o600)
		_ = os.Rename(tmp, path)
	}
	reloaded := func(value string) func() bool {
		return func() bool {
			save(value)
			mu.Lock()
			defer mu.Unlock()
			return latest != nil && latest.Parameters["a"] == value
		}
	}

	// The second save checks the watch survives the first replacement.
	require.Eventually(t, reloaded("2"), 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, reloaded("3"), 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop(), func(*Config) {})
	require.Error(t, err)
}
