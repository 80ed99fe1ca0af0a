package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative api url", func(c *Config) { c.Server.APIURL = "recipes.example.com" }, "api_url"},
		{"bad token url", func(c *Config) { c.Server.TokenURL = "mailto:x" }, "token_url"},
		{"empty client id", func(c *Config) { c.Server.ClientID = "" }, "client_id"},
		{"interval too short", func(c *Config) { c.Sync.Interval = "30s" }, "interval: must be >= 1m0s"},
		{"interval garbage", func(c *Config) { c.Sync.Interval = "soon" }, "interval: invalid duration"},
		{"debounce too long", func(c *Config) { c.Sync.Debounce = "5m" }, "debounce: must be between"},
		{"metadata timeout", func(c *Config) { c.Network.MetadataTimeout = "10ms" }, "metadata_timeout"},
		{"upload timeout", func(c *Config) { c.Network.UploadTimeout = "1s" }, "upload_timeout"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
		{"log size", func(c *Config) { c.Logging.LogMaxSizeMB = 0 }, "log_max_size_mb"},
		{"log retention", func(c *Config) { c.Logging.LogRetentionDays = 0 }, "log_retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
