package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is the effective configuration after every override layer, with
// durations parsed and storage paths made absolute.
type Resolved struct {
	ConfigPath string `json:"config_path"`

	APIURL   string `json:"api_url"`
	TokenURL string `json:"token_url"`
	ClientID string `json:"client_id"`

	Interval      time.Duration `json:"interval"`
	Debounce      time.Duration `json:"debounce"`
	WatchStore    bool          `json:"watch_store"`
	Notifications bool          `json:"notifications"`

	MetadataTimeout time.Duration `json:"metadata_timeout"`
	UploadTimeout   time.Duration `json:"upload_timeout"`
	UserAgent       string        `json:"user_agent"`

	Logging LoggingConfig `json:"logging"`

	DataDir   string `json:"data_dir"`
	DBPath    string `json:"db_path"`
	MediaDir  string `json:"media_dir"`
	TokenPath string `json:"token_path"`
	PIDPath   string `json:"pid_path"`
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.APIURL != "" {
		cfg.Server.APIURL = env.APIURL
	}

	if env.DataDir != "" {
		cfg.Storage.DataDir = env.DataDir
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = strings.ToLower(env.LogLevel)
	}

	if cli.APIURL != "" {
		cfg.Server.APIURL = cli.APIURL
	}

	// Overrides bypass the file-level validation in Load, so validate again.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolve(cfg, cfgPath)
}

func resolve(cfg *Config, cfgPath string) (*Resolved, error) {
	r := &Resolved{
		ConfigPath:    cfgPath,
		APIURL:        strings.TrimRight(cfg.Server.APIURL, "/"),
		TokenURL:      cfg.Server.TokenURL,
		ClientID:      cfg.Server.ClientID,
		WatchStore:    cfg.Sync.WatchStore,
		Notifications: cfg.Sync.Notifications,
		UserAgent:     cfg.Network.UserAgent,
		Logging:       cfg.Logging,
	}

	if r.TokenURL == "" {
		r.TokenURL = r.APIURL + "/oauth/token"
	}

	// Durations were validated already.
	r.Interval, _ = time.ParseDuration(cfg.Sync.Interval)
	r.Debounce, _ = time.ParseDuration(cfg.Sync.Debounce)
	r.MetadataTimeout, _ = time.ParseDuration(cfg.Network.MetadataTimeout)
	r.UploadTimeout, _ = time.ParseDuration(cfg.Network.UploadTimeout)

	r.DataDir = expandTilde(cfg.Storage.DataDir)
	if r.DataDir == "" {
		r.DataDir = DefaultDataDir()
	}

	if r.DataDir == "" {
		return nil, errors.New("config: cannot determine data directory; set storage.data_dir or " + EnvDataDir)
	}

	if !filepath.IsAbs(r.DataDir) {
		abs, err := filepath.Abs(r.DataDir)
		if err != nil {
			return nil, fmt.Errorf("config: resolving data_dir: %w", err)
		}

		r.DataDir = abs
	}

	r.DBPath = inDataDir(r.DataDir, cfg.Storage.DBPath, dbFileName)
	r.MediaDir = inDataDir(r.DataDir, cfg.Storage.MediaDir, mediaDirName)
	r.TokenPath = filepath.Join(r.DataDir, tokenFileName)
	r.PIDPath = filepath.Join(r.DataDir, pidFileName)

	if r.Logging.LogFile != "" {
		r.Logging.LogFile = inDataDir(r.DataDir, r.Logging.LogFile, "")
	}

	return r, nil
}

// inDataDir returns path made absolute relative to dataDir, or
// dataDir/fallback when path is empty.
func inDataDir(dataDir, path, fallback string) string {
	if path == "" {
		return filepath.Join(dataDir, fallback)
	}

	path = expandTilde(path)
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(dataDir, path)
}
