package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvDB, "/custom/state.db")
	t.Setenv(EnvVaultKey, "hunter2")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "/custom/state.db", overrides.DBPath)
	assert.Equal(t, "hunter2", overrides.VaultKey)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvDB, "")
	t.Setenv(EnvVaultKey, "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")

	require.NoError(t, os.WriteFile(first, []byte(EnvVaultKey+"=from-first\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(EnvVaultKey+"=from-second\n"+EnvDB+"=/from/second.db\n"), 0o600))

	t.Setenv(EnvVaultKey, "")
	os.Unsetenv(EnvVaultKey)
	t.Setenv(EnvDB, "/already/set.db")

	require.NoError(t, LoadDotEnv(first, filepath.Join(dir, "missing.env"), "", second))

	assert.Equal(t, "from-first", os.Getenv(EnvVaultKey))
	assert.Equal(t, "/already/set.db", os.Getenv(EnvDB))
}

func TestLoadDotEnv_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(path, []byte("KEY='unterminated\n"), 0o600))

	assert.Error(t, LoadDotEnv(path))
}
