// Package config implements TOML configuration loading, validation, and
// path resolution for recipevault.
//
// The file is organized in sections ([server], [sync], [network], [logging],
// [storage]). Every key is optional; missing keys take the defaults from
// DefaultConfig. Unknown keys are fatal with "did you mean?" suggestions.
package config

// Config is the top-level configuration structure as it appears on disk.
// Durations are kept as strings so validation can report the offending text.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Sync    SyncConfig    `toml:"sync"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
}

// ServerConfig locates the recipe service and its token endpoint.
type ServerConfig struct {
	APIURL   string `toml:"api_url"`
	TokenURL string `toml:"token_url"` // empty means <api_url>/oauth/token
	ClientID string `toml:"client_id"`
}

// SyncConfig controls watch mode triggers.
type SyncConfig struct {
	Interval      string `toml:"interval"`
	Debounce      string `toml:"debounce"`
	WatchStore    bool   `toml:"watch_store"`
	Notifications bool   `toml:"notifications"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	MetadataTimeout string `toml:"metadata_timeout"`
	UploadTimeout   string `toml:"upload_timeout"`
	UserAgent       string `toml:"user_agent"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level" json:"log_level"`
	LogFormat        string `toml:"log_format" json:"log_format"`
	LogFile          string `toml:"log_file" json:"log_file,omitempty"`
	LogMaxSizeMB     int    `toml:"log_max_size_mb" json:"log_max_size_mb"`
	LogRetentionDays int    `toml:"log_retention_days" json:"log_retention_days"`
}

// StorageConfig places the local database and copied media files. Empty
// paths are derived from the data directory.
type StorageConfig struct {
	DataDir  string `toml:"data_dir"`
	DBPath   string `toml:"db_path"`
	MediaDir string `toml:"media_dir"`
}
