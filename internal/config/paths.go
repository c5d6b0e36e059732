package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// AppName names the per-user data directory.
const AppName = "wofinder"

// CacheFileName is the server cache file inside the data directory.
const CacheFileName = "watchout-servers-cache.json"

// AppDataDir returns the per-user application data directory.
func AppDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, AppName), nil
}

// CachePath returns the configured cache path, or the default location in
// the per-user data directory.
func CachePath(c *Config) (string, error) {
	if p := c.GetString("cache.path"); p != "" {
		return p, nil
	}
	dir, err := AppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, CacheFileName), nil
}
