package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.NotEmpty(t, cfg.RateLimit.Operations)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
port: 9000
session:
  ttl: 1h
  diff_ttl: 10m
  cache_ttl: 5m
rate_limit:
  operations:
    create_post:
      hourly: 10
      burst: 1
      cooldown_seconds: 5
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, time.Hour, cfg.Session.TTL)

	limits := cfg.Policy().Lookup("create_post")
	assert.Equal(t, 10, limits.Hourly)
	assert.Equal(t, 1, limits.Burst)
	assert.Equal(t, 5, limits.CooldownSeconds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
}

func TestLoad_RejectsDiffTTLBeyondSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
session:
  ttl: 1m
  diff_ttl: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPolicy_UnknownOperationUsesDefault(t *testing.T) {
	cfg := Default()
	limits := cfg.Policy().Lookup("no_such_operation")
	assert.Greater(t, limits.Hourly, 0)
}
