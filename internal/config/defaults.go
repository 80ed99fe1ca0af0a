package config

// Default values for configuration options. These are chosen to work well
// for a single user against a local development server.
const (
	defaultAPIURL           = "http://localhost:8000"
	defaultClientID         = "recipevault-cli"
	defaultInterval         = "15m"
	defaultDebounce         = "2s"
	defaultMetadataTimeout  = "30s"
	defaultUploadTimeout    = "120s"
	defaultUserAgent        = "recipevault/0.1"
	defaultLogLevel         = "warn"
	defaultLogFormat        = "auto"
	defaultLogMaxSizeMB     = 10
	defaultLogRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values.
// This is the base layer of the override chain.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIURL:   defaultAPIURL,
			ClientID: defaultClientID,
		},
		Sync: SyncConfig{
			Interval:      defaultInterval,
			Debounce:      defaultDebounce,
			WatchStore:    true,
			Notifications: true,
		},
		Network: NetworkConfig{
			MetadataTimeout: defaultMetadataTimeout,
			UploadTimeout:   defaultUploadTimeout,
			UserAgent:       defaultUserAgent,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogMaxSizeMB:     defaultLogMaxSizeMB,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
