package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearWardenEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WARDEN_MIN_IDLE_WORKERS", "WARDEN_MAX_TOTAL_WORKERS", "WARDEN_CREATE_RETRIES",
		"WARDEN_MEMORY_MB", "WARDEN_DISK_MB", "WARDEN_CPU_CORES",
		"WARDEN_WORKER_IDLE_TIMEOUT", "WARDEN_RECYCLING_INTERVAL", "WARDEN_EXECUTION_TIMEOUT",
		"WARDEN_PROXY_MARGIN", "WARDEN_HEALTH_TIMEOUT", "WARDEN_PROBE_INTERVAL",
		"WARDEN_WORKER_IMAGE", "WARDEN_NETWORK_NAME", "WARDEN_AUTH_TOKEN", "WARDEN_AUTH_TOKEN_FILE", "PORT",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadFromEnv_UsesDefaultsWhenUnset(t *testing.T) {
	clearWardenEnv(t)
	dir := t.TempDir()
	os.Setenv("WARDEN_AUTH_TOKEN_FILE", filepath.Join(dir, "token"))
	defer os.Unsetenv("WARDEN_AUTH_TOKEN_FILE")

	c, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5, c.MinIdleWorkers)
	assert.Equal(t, 30, c.MaxTotalWorkers)
	assert.Equal(t, time.Hour, c.WorkerIdleTimeout)
	assert.Equal(t, 30*time.Second, c.ProxyTimeout())
}

func TestLoadFromEnv_OverridesFromEnvironment(t *testing.T) {
	clearWardenEnv(t)
	dir := t.TempDir()
	os.Setenv("WARDEN_AUTH_TOKEN_FILE", filepath.Join(dir, "token"))
	os.Setenv("WARDEN_MIN_IDLE_WORKERS", "10")
	os.Setenv("WARDEN_EXECUTION_TIMEOUT", "2s")
	defer clearWardenEnv(t)

	c, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 10, c.MinIdleWorkers)
	assert.Equal(t, 2*time.Second, c.ExecutionTimeout)
}

func TestLoadFromEnv_GeneratesAndPersistsTokenOnFirstBoot(t *testing.T) {
	clearWardenEnv(t)
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token")
	os.Setenv("WARDEN_AUTH_TOKEN_FILE", tokenPath)
	defer os.Unsetenv("WARDEN_AUTH_TOKEN_FILE")

	c1, err := LoadFromEnv()
	require.NoError(t, err)
	assert.NotEmpty(t, c1.AuthToken)

	_, err = os.Stat(tokenPath)
	require.NoError(t, err)

	c2, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, c1.AuthToken, c2.AuthToken)
}

func TestLoadFromEnv_ExplicitTokenWins(t *testing.T) {
	clearWardenEnv(t)
	dir := t.TempDir()
	os.Setenv("WARDEN_AUTH_TOKEN_FILE", filepath.Join(dir, "token"))
	os.Setenv("WARDEN_AUTH_TOKEN", "explicit-secret")
	defer clearWardenEnv(t)

	c, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "explicit-secret", c.AuthToken)
}
