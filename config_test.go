package clusterlib

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWhenNothingSet(t *testing.T) {
	cfg, err := LoadConfig("CLUSTERLIB_TEST_DEFAULTS")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().SessionTimeout, cfg.SessionTimeout)
	assert.Equal(t, DefaultConfig().EventWorkers, cfg.EventWorkers)
	assert.Empty(t, cfg.StoreConnect)
}

func TestLoadConfig_EnvironmentOverridesDefaults(t *testing.T) {
	prefix := "CLUSTERLIB_TEST_ENV"
	t.Setenv(prefix+"_STORE_CONNECT", "/tmp/clusterlib-test.db")
	t.Setenv(prefix+"_SESSION_TIMEOUT", "45s")
	t.Setenv(prefix+"_EVENT_WORKERS", "8")

	cfg, err := LoadConfig(prefix)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/clusterlib-test.db", cfg.StoreConnect)
	assert.Equal(t, 45*time.Second, cfg.SessionTimeout)
	assert.Equal(t, 8, cfg.EventWorkers)
}

func TestLoadConfig_FileIsLayeredUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clusterlib.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_connect: /from/file.db\nevent_workers: 6\n"), 0o600))

	prefix := "CLUSTERLIB_TEST_FILE"
	t.Setenv(prefix+"_CONFIG_FILE", path)

	cfg, err := LoadConfig(prefix)
	require.NoError(t, err)
	assert.Equal(t, "/from/file.db", cfg.StoreConnect)
	assert.Equal(t, 6, cfg.EventWorkers)

	t.Setenv(prefix+"_EVENT_WORKERS", "9")
	cfg, err = LoadConfig(prefix)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.EventWorkers, "an explicit env var must win over the file value")
}
