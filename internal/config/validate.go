package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minInterval        = 1 * time.Minute
	minDebounce        = 100 * time.Millisecond
	maxDebounce        = 1 * time.Minute
	minMetadataTimeout = 1 * time.Second
	minUploadTimeout   = 5 * time.Second
	minLogRetention    = 1
	minLogSizeMB       = 1
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

// Validate checks all configuration values and returns every error found,
// joined, so a user can fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if err := validateURL("api_url", s.APIURL); err != nil {
		errs = append(errs, err)
	}

	if s.TokenURL != "" {
		if err := validateURL("token_url", s.TokenURL); err != nil {
			errs = append(errs, err)
		}
	}

	if s.ClientID == "" {
		errs = append(errs, errors.New("client_id: must not be empty"))
	}

	return errs
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: must be an http or https URL, got %q", field, raw)
	}

	if u.Host == "" {
		return fmt.Errorf("%s: missing host in %q", field, raw)
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if err := validateDurationMin("interval", s.Interval, minInterval); err != nil {
		errs = append(errs, err)
	}

	d, err := time.ParseDuration(s.Debounce)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("debounce: invalid duration %q: %w", s.Debounce, err))
	case d < minDebounce || d > maxDebounce:
		errs = append(errs, fmt.Errorf("debounce: must be between %s and %s, got %s", minDebounce, maxDebounce, d))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDurationMin("metadata_timeout", n.MetadataTimeout, minMetadataTimeout); err != nil {
		errs = append(errs, err)
	}

	if err := validateDurationMin("upload_timeout", n.UploadTimeout, minUploadTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogMaxSizeMB < minLogSizeMB {
		errs = append(errs, fmt.Errorf("log_max_size_mb: must be >= %d, got %d", minLogSizeMB, l.LogMaxSizeMB))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d", minLogRetention, l.LogRetentionDays))
	}

	return errs
}

func validateDurationMin(field, value string, floor time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < floor {
		return fmt.Errorf("%s: must be >= %s, got %s", field, floor, d)
	}

	return nil
}
