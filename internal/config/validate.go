package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minParallelJobs      = 1
	maxParallelJobs      = 32
	maxRetries           = 10
	minTokenExpiryBuffer = 0
	maxTokenExpiryBuffer = 30 * time.Minute
	minSourceURLTTL      = time.Minute
	maxSourceURLTTL      = 7 * 24 * time.Hour
	minConnectTimeout    = 1 * time.Second
)

var validModes = map[string]bool{
	ModeDirect:  true,
	ModeAdapter: true,
}

var validStorageKinds = map[string]bool{
	"database":   true,
	"filesystem": true,
	"s3":         true,
	"gdrive":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	if cfg.Account.Owner == "" {
		errs = append(errs, errors.New("account.owner: must not be empty"))
	}

	if cfg.Adapter.URL != "" {
		errs = append(errs, validateURL("adapter.url", cfg.Adapter.URL)...)
	}

	return errors.Join(errs...)
}

// ValidateResolved checks cross-field constraints that only make sense once
// every override layer has been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.Store.Path == "" || !filepath.IsAbs(r.Store.Path) {
		errs = append(errs, fmt.Errorf("store.path: must be absolute after expansion, got %q", r.Store.Path))
	}

	if r.Sync.Mode == ModeAdapter && r.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url: required when sync.mode is \"adapter\""))
	}

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	errs = append(errs, validateURL("api.base_url", a.BaseURL)...)
	errs = append(errs, validateURL("api.token_url", a.TokenURL)...)

	if a.ClientID == "" {
		errs = append(errs, errors.New("api.client_id: must not be empty"))
	}

	errs = append(errs, validateDurationRange("api.token_expiry_buffer", a.TokenExpiryBuffer,
		minTokenExpiryBuffer, maxTokenExpiryBuffer)...)

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if !validModes[s.Mode] {
		errs = append(errs, fmt.Errorf("sync.mode: must be one of direct, adapter; got %q", s.Mode))
	}

	if s.ParallelJobs < minParallelJobs || s.ParallelJobs > maxParallelJobs {
		errs = append(errs, fmt.Errorf("sync.parallel_jobs: must be between %d and %d, got %d",
			minParallelJobs, maxParallelJobs, s.ParallelJobs))
	}

	if s.MaxRetries < 0 || s.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("sync.max_retries: must be between 0 and %d, got %d",
			maxRetries, s.MaxRetries))
	}

	if _, err := ParseBandwidth(s.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("sync.bandwidth_limit: %w", err))
	}

	errs = append(errs, validateDurationRange("sync.source_url_ttl", s.SourceURLTTL,
		minSourceURLTTL, maxSourceURLTTL)...)

	return errs
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if !validStorageKinds[s.Default] {
		return []error{fmt.Errorf("storage.default: must be one of database, filesystem, s3, gdrive; got %q",
			s.Default)}
	}

	switch s.Default {
	case "filesystem":
		if s.Filesystem.Root == "" {
			errs = append(errs, errors.New("storage.filesystem.root: required when it is the default storage"))
		}
	case "s3":
		if s.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket: required when it is the default storage"))
		}
	case "gdrive":
		if s.GDrive.FolderID == "" {
			errs = append(errs, errors.New("storage.gdrive.folder_id: required when it is the default storage"))
		}
	}

	if (s.S3.AccessKeyID == "") != (s.S3.SecretAccessKey == "") {
		errs = append(errs, errors.New("storage.s3: access_key_id and secret_access_key must be set together"))
	}

	if s.S3.Endpoint != "" {
		errs = append(errs, validateURL("storage.s3.endpoint", s.S3.Endpoint)...)
	}

	if s.GDrive.Endpoint != "" {
		errs = append(errs, validateURL("storage.gdrive.endpoint", s.GDrive.Endpoint)...)
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q",
			l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q",
			l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	return validateDurationRange("network.connect_timeout", n.ConnectTimeout, minConnectTimeout, 0)
}

// validateDurationRange checks a duration string against inclusive bounds.
// A zero maximum means unbounded.
func validateDurationRange(field, value string, minimum, maximum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	if maximum > 0 && d > maximum {
		return []error{fmt.Errorf("%s: must be <= %s, got %s", field, maximum, d)}
	}

	return nil
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}
