package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.Server.RateLimit)
	assert.Equal(t, "https://irctc1.p.rapidapi.com", cfg.Upstream.IRCTCBaseURL)
	assert.Equal(t, "https://irctc-indian-railway-pnr-status.p.rapidapi.com", cfg.Upstream.PNRBaseURL)
	assert.Equal(t, 15*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "message_contains", cfg.Quota.Detector)
	assert.Equal(t, "exceeded", cfg.Quota.Substring)
	assert.Equal(t, "file::memory:?cache=shared", cfg.Storage.DSN)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "rail-gateway", cfg.Tracing.ServiceName)
	assert.Empty(t, cfg.Keys.List, "no keys is not a load error")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RAIL_SERVER_PORT", "9090")
	t.Setenv("RAIL_SERVER_RATE_LIMIT", "2.5")
	t.Setenv("RAIL_KEYS_LIST", "a,b,c")
	t.Setenv("RAIL_UPSTREAM_TIMEOUT", "3s")
	t.Setenv("RAIL_QUOTA_DETECTOR", "never")
	t.Setenv("RAIL_ADMIN_TOKEN", "admin-secret")
	t.Setenv("RAIL_TRACING_ENABLED", "true")

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, "a,b,c", cfg.Keys.List)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "never", cfg.Quota.Detector)
	assert.Equal(t, "admin-secret", cfg.Admin.Token)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadLegacyKeyVariable(t *testing.T) {
	t.Setenv("EXPO_PUBLIC_API_KEYS", "k1,k2")

	cfg, err := load("")
	require.NoError(t, err)
	assert.Equal(t, "k1,k2", cfg.Keys.List)
}

func TestLoadPrefersKeysListOverLegacy(t *testing.T) {
	t.Setenv("EXPO_PUBLIC_API_KEYS", "legacy")
	t.Setenv("RAIL_KEYS_LIST", "current")

	cfg, err := load("")
	require.NoError(t, err)
	assert.Equal(t, "current", cfg.Keys.List)
}

func TestLoadYAMLFileThenEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
upstream:
  irctc_base_url: http://localhost:9999
  timeout: 1s
keys:
  list: "x,y"
`), 0644))
	t.Setenv("RAIL_SERVER_PORT", "7001")

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "http://localhost:9999", cfg.Upstream.IRCTCBaseURL)
	assert.Equal(t, time.Second, cfg.Upstream.Timeout)
	assert.Equal(t, "x,y", cfg.Keys.List)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad port", key: "RAIL_SERVER_PORT", value: "0"},
		{name: "bad detector", key: "RAIL_QUOTA_DETECTOR", value: "regex"},
		{name: "bad secret length", key: "RAIL_KEYS_SECRET", value: "short"},
		{name: "bad upstream url", key: "RAIL_UPSTREAM_PNR_BASE_URL", value: "not a url"},
		{name: "bad log level", key: "RAIL_LOG_LEVEL", value: "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
