package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "recipevault"

// Names inside the config and data directories.
const (
	configFileName = "config.toml"
	dbFileName     = "recipes.db"
	tokenFileName  = "token.json"
	mediaDirName   = "media"
	pidFileName    = "watch.pid"
)

// xdgDir picks a per-user directory: $envVar/recipevault when set, otherwise
// home joined with fallback. macOS keeps everything under Application Support.
func xdgDir(goos, home, envVar string, fallback ...string) string {
	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if goos == "linux" {
		if v := os.Getenv(envVar); v != "" {
			return filepath.Join(v, appName)
		}
	}

	return filepath.Join(append(append([]string{home}, fallback...), appName)...)
}

// DefaultConfigDir is where config.toml lives: $XDG_CONFIG_HOME/recipevault
// or ~/.config/recipevault on Linux.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return xdgDir(runtime.GOOS, home, "XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir holds the recipe database, copied media, the token file
// and the sync lock: $XDG_DATA_HOME/recipevault or ~/.local/share/recipevault.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return xdgDir(runtime.GOOS, home, "XDG_DATA_HOME", ".local", "share")
}

// DefaultConfigPath is used when neither RECIPEVAULT_CONFIG nor --config is
// given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

func expandTilde(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, rest)
}
