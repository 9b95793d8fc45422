package config

import (
	"fmt"
	"io"
)

const redacted = "<redacted>"

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w. Secrets are redacted.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)

	ew.printf("[api]\n")
	ew.printf("  base_url            = %q\n", r.API.BaseURL)
	ew.printf("  token_url           = %q\n", r.API.TokenURL)
	ew.printf("  client_id           = %q\n", r.API.ClientID)
	ew.printf("  token_expiry_buffer = %q\n\n", r.API.TokenExpiryBuffer)

	ew.printf("[account]\n")
	ew.printf("  owner = %q\n\n", r.Account.Owner)

	ew.printf("[store]\n")
	ew.printf("  path = %q\n\n", r.Store.Path)

	ew.printf("[sync]\n")
	ew.printf("  mode                    = %q\n", r.Sync.Mode)
	ew.printf("  audit_credential_access = %t\n", r.Sync.AuditCredentialAccess)
	ew.printf("  parallel_jobs           = %d\n", r.Sync.ParallelJobs)
	ew.printf("  max_retries             = %d\n", r.Sync.MaxRetries)
	ew.printf("  bandwidth_limit         = %q\n", r.Sync.BandwidthLimit)
	ew.printf("  source_url_ttl          = %q\n\n", r.Sync.SourceURLTTL)

	renderStorage(ew, &r.Storage)

	ew.printf("[adapter]\n")
	ew.printf("  listen = %q\n", r.Adapter.Listen)

	if r.Adapter.URL != "" {
		ew.printf("  url    = %q\n", r.Adapter.URL)
	}

	if r.Adapter.Credential != "" {
		ew.printf("  credential = %q\n", r.Adapter.Credential)
	}

	ew.printf("\n[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n", r.Logging.LogFormat)

	if r.Logging.LogFile != "" {
		ew.printf("  log_file   = %q\n", r.Logging.LogFile)
	}

	ew.printf("\n[network]\n")
	ew.printf("  connect_timeout = %q\n", r.Network.ConnectTimeout)

	if r.Network.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", r.Network.UserAgent)
	}

	return ew.err
}

func renderStorage(ew *errWriter, s *StorageConfig) {
	ew.printf("[storage]\n")
	ew.printf("  default = %q\n\n", s.Default)

	if s.Filesystem.Root != "" {
		ew.printf("[storage.filesystem]\n")
		ew.printf("  root = %q\n\n", s.Filesystem.Root)
	}

	if s.S3.Bucket != "" {
		ew.printf("[storage.s3]\n")
		ew.printf("  bucket         = %q\n", s.S3.Bucket)
		ew.printf("  region         = %q\n", s.S3.Region)
		ew.printf("  endpoint       = %q\n", s.S3.Endpoint)
		ew.printf("  prefix         = %q\n", s.S3.Prefix)
		ew.printf("  use_path_style = %t\n", s.S3.UsePathStyle)

		if s.S3.AccessKeyID != "" {
			ew.printf("  access_key_id     = %q\n", s.S3.AccessKeyID)
			ew.printf("  secret_access_key = %q\n", redacted)
		}

		ew.printf("\n")
	}

	if s.GDrive.FolderID != "" {
		ew.printf("[storage.gdrive]\n")
		ew.printf("  folder_id        = %q\n", s.GDrive.FolderID)
		ew.printf("  credentials_file = %q\n\n", s.GDrive.CredentialsFile)
	}
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
