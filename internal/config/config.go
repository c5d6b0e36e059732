// Package config wraps viper with the accessors wofinder components use and
// owns the default configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// WOFINDER_DISCOVERY_INTERVAL=1m.
const EnvPrefix = "WOFINDER"

// Config is a read-only view over a viper instance.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil viper yields an empty Config that returns zero values.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

func (c *Config) GetString(key string) string          { return c.v.GetString(key) }
func (c *Config) GetInt(key string) int                { return c.v.GetInt(key) }
func (c *Config) GetBool(key string) bool              { return c.v.GetBool(key) }
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }

// Viper exposes the underlying instance.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// SetDefaults registers the default value of every known key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("discovery.interval", "30s")
	v.SetDefault("discovery.probe_timeout", "5s")
	v.SetDefault("discovery.offline_threshold", 10)

	v.SetDefault("cache.path", "")
	v.SetDefault("cache.max_age", "24h")

	v.SetDefault("portscan.enabled", true)
	v.SetDefault("portscan.scanner", "auto")
	v.SetDefault("portscan.target", "192.168.1.1-254")
	v.SetDefault("portscan.timeout", "30s")
	v.SetDefault("portscan.nmap_path", "nmap")
	v.SetDefault("portscan.dial_timeout", "750ms")
	v.SetDefault("portscan.concurrency", 128)

	v.SetDefault("multicast.enabled", true)
	v.SetDefault("multicast.group", "239.2.2.2")
	v.SetDefault("multicast.query_port", 3011)
	v.SetDefault("multicast.response_port", 3012)

	v.SetDefault("bonjour.enabled", true)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8420")
	v.SetDefault("server.discovery_rate", "6s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// Load reads configuration from path (if non-empty), otherwise from
// wofinder.yaml in the working directory or the user config directory when
// one exists. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wofinder")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := AppDataDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return New(v), nil
}
