package config

// Sync modes.
const (
	ModeDirect  = "direct"
	ModeAdapter = "adapter"
)

// Default values for configuration options, the first layer of the
// override chain.
const (
	defaultBaseURL           = "https://api.tonie.cloud/v2"
	defaultTokenURL          = "https://login.tonies.com/auth/realms/tonies/protocol/openid-connect/token"
	defaultClientID          = "my-tonies"
	defaultTokenExpiryBuffer = "5m"
	defaultOwner             = "default"
	defaultParallelJobs      = 4
	defaultMaxRetries        = 5
	defaultBandwidthLimit    = "0"
	defaultSourceURLTTL      = "15m"
	defaultStorage           = "database"
	defaultAdapterListen     = "127.0.0.1:8080"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultConnectTimeout    = "10s"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           defaultBaseURL,
			TokenURL:          defaultTokenURL,
			ClientID:          defaultClientID,
			TokenExpiryBuffer: defaultTokenExpiryBuffer,
		},
		Account: AccountConfig{Owner: defaultOwner},
		Sync: SyncConfig{
			Mode:                  ModeDirect,
			AuditCredentialAccess: true,
			ParallelJobs:          defaultParallelJobs,
			MaxRetries:            defaultMaxRetries,
			BandwidthLimit:        defaultBandwidthLimit,
			SourceURLTTL:          defaultSourceURLTTL,
		},
		Storage: StorageConfig{Default: defaultStorage},
		Adapter: AdapterConfig{Listen: defaultAdapterListen},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{ConnectTimeout: defaultConnectTimeout},
	}
}
