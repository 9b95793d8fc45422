package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, ModeDirect, cfg.Sync.Mode)
	assert.True(t, cfg.Sync.AuditCredentialAccess)
	assert.Equal(t, "database", cfg.Storage.Default)
	assert.Equal(t, 5*time.Minute, cfg.TokenExpiryBuffer())
	assert.Equal(t, 15*time.Minute, cfg.SourceURLTTL())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Zero(t, cfg.BandwidthBytes())
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[api]
base_url = "https://api.example.test/v2"
token_url = "https://login.example.test/token"
client_id = "custom"
token_expiry_buffer = "2m"

[account]
owner = "alice"

[store]
path = "/var/lib/tonies/state.db"

[sync]
mode = "adapter"
audit_credential_access = false
parallel_jobs = 8
max_retries = 0
bandwidth_limit = "1MB/s"
source_url_ttl = "1h"

[storage]
default = "s3"

[storage.filesystem]
root = "/srv/audio"

[storage.s3]
bucket = "media"
region = "eu-central-1"
endpoint = "http://localhost:9000"
prefix = "library"
access_key_id = "AKIA"
secret_access_key = "shh"
use_path_style = true

[storage.gdrive]
folder_id = "folder-1"
credentials_file = "/etc/tonies/sa.json"

[adapter]
url = "http://adapter.local:8080"
listen = ":9090"
credential = "cred-1"

[logging]
log_level = "debug"
log_file = "/tmp/tonies.log"
log_format = "json"

[network]
connect_timeout = "3s"
user_agent = "tonies-test"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test/v2", cfg.API.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.TokenExpiryBuffer())
	assert.Equal(t, "alice", cfg.Account.Owner)
	assert.Equal(t, ModeAdapter, cfg.Sync.Mode)
	assert.False(t, cfg.Sync.AuditCredentialAccess)
	assert.Equal(t, 8, cfg.Sync.ParallelJobs)
	assert.Zero(t, cfg.Sync.MaxRetries)
	assert.Equal(t, int64(1_000_000), cfg.BandwidthBytes())
	assert.Equal(t, "media", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	assert.Equal(t, "folder-1", cfg.Storage.GDrive.FolderID)
	assert.Equal(t, ":9090", cfg.Adapter.Listen)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, "tonies-test", cfg.Network.UserAgent)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[sync]\nparallel_jobs = 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Sync.ParallelJobs)
	assert.True(t, cfg.Sync.AuditCredentialAccess)
	assert.Equal(t, defaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[sync\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[sync]
mode = "carrier-pigeon"
parallel_jobs = 0
max_retries = 99
bandwidth_limit = "lots"
source_url_ttl = "1s"

[storage]
default = "filesystem"

[logging]
log_level = "loud"
log_format = "xml"
`)

	_, err := Load(path)
	require.Error(t, err)

	for _, want := range []string{
		"sync.mode", "sync.parallel_jobs", "sync.max_retries", "sync.bandwidth_limit",
		"sync.source_url_ttl", "storage.filesystem.root", "logging.log_level", "logging.log_format",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_StorageAndURLs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "not a url"
	cfg.Storage.Default = "dropbox"
	cfg.Adapter.URL = "ftp://adapter"
	cfg.Account.Owner = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url")
	assert.Contains(t, err.Error(), "storage.default")
	assert.Contains(t, err.Error(), "adapter.url")
	assert.Contains(t, err.Error(), "account.owner")

	cfg = DefaultConfig()
	cfg.Storage.S3.AccessKeyID = "AKIA"
	assert.ErrorContains(t, Validate(cfg), "must be set together")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, `
[store]
path = "/from/file.db"

[sync]
parallel_jobs = 2

[account]
owner = "file-owner"
`)

	cfg, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "/from/file.db", cfg.Store.Path)
	assert.Equal(t, "file-owner", cfg.Account.Owner)

	envDB := filepath.Join(dir, "env.db")

	cfg, err = Resolve(EnvOverrides{ConfigPath: path, DBPath: envDB}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, envDB, cfg.Store.Path)

	parallel := 6
	cliDB := filepath.Join(dir, "cli.db")

	cfg, err = Resolve(
		EnvOverrides{ConfigPath: "/ignored.toml", DBPath: envDB},
		CLIOverrides{ConfigPath: path, DBPath: cliDB, Owner: "bob", Parallel: &parallel},
	)
	require.NoError(t, err)
	assert.Equal(t, cliDB, cfg.Store.Path)
	assert.Equal(t, "bob", cfg.Account.Owner)
	assert.Equal(t, 6, cfg.Sync.ParallelJobs)
}

func TestResolve_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, DefaultDBPath(), cfg.Store.Path)
	assert.Equal(t, ModeDirect, cfg.Sync.Mode)
}

func TestResolve_RejectsBadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.toml")
	zero := 0

	_, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{Parallel: &zero})
	assert.ErrorContains(t, err, "sync.parallel_jobs")

	_, err = Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{Mode: ModeAdapter})
	assert.ErrorContains(t, err, "adapter.url")

	_, err = Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{DBPath: "relative.db"})
	assert.ErrorContains(t, err, "store.path")
}

func TestRenderEffective_RedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.S3 = S3Storage{Bucket: "media", AccessKeyID: "AKIA", SecretAccessKey: "top-secret"}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(&Resolved{Config: *cfg, Path: "/etc/tonies.toml"}, &buf))

	out := buf.String()
	assert.Contains(t, out, "/etc/tonies.toml")
	assert.Contains(t, out, `bucket         = "media"`)
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "top-secret")
	assert.Contains(t, out, "[logging]")
}
