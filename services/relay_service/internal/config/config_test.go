package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("APP_ENV", "does-not-exist")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3001, cfg.Server.HTTPPort)
	require.Equal(t, 500*time.Millisecond, cfg.Relay.DeliveryDelay)
	require.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	require.Equal(t, "relay.presence.changed", cfg.Kafka.PresenceTopic)
	require.False(t, cfg.Redis.Enabled)
	require.NotEmpty(t, cfg.Server.NodeID)
	require.Equal(t, RateLimitConfig{Enabled: true, Rate: 20, Burst: 40}, cfg.Server.RateLimit)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8080
  node_id: node-a
relay:
  delivery_delay: 1s
ws:
  ping_period: 5s
  pong_wait: 10s
redis:
  enabled: true
  addr: redis:6379
`)
	t.Setenv("RELAY_RELAY_DELIVERY_DELAY", "250ms")
	t.Setenv("RELAY_REDIS_POOL_SIZE", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.HTTPPort)
	require.Equal(t, "node-a", cfg.Server.NodeID)
	require.Equal(t, 250*time.Millisecond, cfg.Relay.DeliveryDelay)
	require.Equal(t, 5*time.Second, cfg.WS.PingPeriod)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, 3, cfg.Redis.PoolSize)
	require.Equal(t, time.Minute, cfg.Redis.PresenceRefresh)
	require.Equal(t, 256, cfg.WS.SendBuffer)
}

func TestPortEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8080\n")

	t.Setenv("PORT", "4000")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Server.HTTPPort)

	t.Setenv("RELAY_SERVER_HTTP_PORT", "5000")
	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Server.HTTPPort)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"ping not below pong":   "ws:\n  ping_period: 60s\n  pong_wait: 60s\n",
		"zero delay":            "relay:\n  delivery_delay: 0s\n",
		"bad port":              "server:\n  http_port: 70000\n",
		"kafka without topic":   "kafka:\n  enabled: true\n  presence_topic: \"\"\n",
		"rate limit no burst":   "server:\n  rate_limit:\n    burst: 0\n",
		"refresh not below ttl": "redis:\n  enabled: true\n  presence_ttl: 1m\n  presence_refresh: 1m\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
