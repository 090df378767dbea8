// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/iwantit/pkg/types"
)

// AppName names the XDG subdirectories.
const AppName = "iwantit"

// Environment variables consulted for locations.
const (
	EnvConfig     = "IWANTIT_CONFIG"
	EnvSecrets    = "IWANTIT_SECRETS"
	EnvPluginPath = "IWANTIT_PLUGIN_PATH"
)

func xdgDir(envKey, fallback string) string {
	if base := os.Getenv(envKey); base != "" {
		return filepath.Join(ExpandHome(base), AppName)
	}
	return filepath.Join(ExpandHome(fallback), AppName)
}

// ConfigDir is $XDG_CONFIG_HOME/iwantit.
func ConfigDir() string { return xdgDir("XDG_CONFIG_HOME", "~/.config") }

// StateDir returns the state directory: paths.state_dir when set, else
// $XDG_STATE_HOME/iwantit.
func StateDir(cfg *types.Config) string {
	if cfg != nil && cfg.Paths.StateDir != "" {
		return ExpandHome(cfg.Paths.StateDir)
	}
	return xdgDir("XDG_STATE_HOME", "~/.local/state")
}

// CacheDir returns the cache directory: cache.dir, then paths.cache_dir,
// else $XDG_CACHE_HOME/iwantit.
func CacheDir(cfg *types.Config) string {
	if cfg != nil {
		if cfg.Cache.Dir != "" {
			return ExpandHome(cfg.Cache.Dir)
		}
		if cfg.Paths.CacheDir != "" {
			return ExpandHome(cfg.Paths.CacheDir)
		}
	}
	return xdgDir("XDG_CACHE_HOME", "~/.cache")
}

// DefaultConfigPath is $IWANTIT_CONFIG, else config.yaml in ConfigDir.
func DefaultConfigPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return ExpandHome(p)
	}
	return filepath.Join(ConfigDir(), "config.yaml")
}

// SecretsPath is $IWANTIT_SECRETS, else secrets.yaml in ConfigDir.
func SecretsPath() string {
	if p := os.Getenv(EnvSecrets); p != "" {
		return ExpandHome(p)
	}
	return filepath.Join(ConfigDir(), "secrets.yaml")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
