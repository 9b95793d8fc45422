// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for tonies-go. Values are layered:
// defaults, then the config file, then environment variables, then CLI
// flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API     APIConfig     `toml:"api"`
	Account AccountConfig `toml:"account"`
	Store   StoreConfig   `toml:"store"`
	Sync    SyncConfig    `toml:"sync"`
	Storage StorageConfig `toml:"storage"`
	Adapter AdapterConfig `toml:"adapter"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// APIConfig points the client at the Tonies cloud and its identity provider.
type APIConfig struct {
	BaseURL           string `toml:"base_url"`
	TokenURL          string `toml:"token_url"`
	ClientID          string `toml:"client_id"`
	TokenExpiryBuffer string `toml:"token_expiry_buffer"`
}

// AccountConfig identifies the local user on whose behalf credentials are
// linked and jobs are requested.
type AccountConfig struct {
	Owner string `toml:"owner"`
}

// StoreConfig locates the state database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// SyncConfig controls the job orchestrator and the cloud client.
type SyncConfig struct {
	Mode                  string `toml:"mode"`
	AuditCredentialAccess bool   `toml:"audit_credential_access"`
	ParallelJobs          int    `toml:"parallel_jobs"`
	MaxRetries            int    `toml:"max_retries"`
	BandwidthLimit        string `toml:"bandwidth_limit"`
	SourceURLTTL          string `toml:"source_url_ttl"`
}

// StorageConfig selects where content bytes live. Providers without
// settings are not registered, except database and http which need none.
type StorageConfig struct {
	Default    string            `toml:"default"`
	Filesystem FilesystemStorage `toml:"filesystem"`
	S3         S3Storage         `toml:"s3"`
	GDrive     GDriveStorage     `toml:"gdrive"`
}

// FilesystemStorage keeps content under a local directory.
type FilesystemStorage struct {
	Root string `toml:"root"`
}

// S3Storage keeps content in an S3-compatible bucket. Credentials fall back
// to the AWS default chain when the static keys are empty.
type S3Storage struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Prefix          string `toml:"prefix"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// GDriveStorage keeps content in one Google Drive folder.
type GDriveStorage struct {
	FolderID        string `toml:"folder_id"`
	CredentialsFile string `toml:"credentials_file"`
	Endpoint        string `toml:"endpoint"`
}

// AdapterConfig covers both sides of the sync adapter: the URL jobs post
// to in adapter mode, and the listen address and account for
// "adapter serve".
type AdapterConfig struct {
	URL        string `toml:"url"`
	Listen     string `toml:"listen"`
	Credential string `toml:"credential"`
}

// LoggingConfig controls log output: level, format, and destination.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the shared HTTP client.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string
	DBPath     string
	Owner      string
	Mode       string
	Parallel   *int
}
