package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "RECIPEVAULT_CONFIG"
	EnvAPIURL   = "RECIPEVAULT_API_URL"
	EnvDataDir  = "RECIPEVAULT_DATA_DIR"
	EnvLogLevel = "RECIPEVAULT_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // RECIPEVAULT_CONFIG: override config file path
	APIURL     string // RECIPEVAULT_API_URL: server base URL
	DataDir    string // RECIPEVAULT_DATA_DIR: data directory
	LogLevel   string // RECIPEVAULT_LOG_LEVEL: log level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies them.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		APIURL:     os.Getenv(EnvAPIURL),
		DataDir:    os.Getenv(EnvDataDir),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}

// CLIOverrides holds values from command-line flags. Empty strings mean the
// flag was not given.
type CLIOverrides struct {
	ConfigPath string
	APIURL     string
}
