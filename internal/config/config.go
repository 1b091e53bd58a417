// Package config loads the daemon's settings from defaults, config
// files, environment variables, and command-line flags, in that order
// of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultCacheDirName = "sccache"
	DefaultIdleTimeout  = 10 * time.Minute
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// Config holds the runtime options for sccache.
type Config struct {
	// CacheDir is the root directory for cached objects
	CacheDir string

	// MaxCacheSize bounds the cache in bytes; 0 means unbounded
	MaxCacheSize int64

	// IdleTimeout is how long the daemon lives without requests;
	// 0 disables the idle timeout
	IdleTimeout time.Duration

	// Port to listen on; 0 picks an ephemeral port
	Port int

	// LogLevel is one of debug, info, warn, error
	LogLevel string

	// LogFormat is one of text, json
	LogFormat string
}

// Load reads the configuration out of viper and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		CacheDir:     viper.GetString("cache_dir"),
		MaxCacheSize: viper.GetInt64("max_cache_size"),
		IdleTimeout:  viper.GetDuration("idle_timeout"),
		Port:         viper.GetInt("port"),
		LogLevel:     viper.GetString("log_level"),
		LogFormat:    viper.GetString("log_format"),
	}

	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine cache directory: %w", err)
		}

		cfg.CacheDir = filepath.Join(base, DefaultCacheDirName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate normalizes paths and rejects nonsensical values.
func (c *Config) Validate() error {
	abs, err := filepath.Abs(c.CacheDir)
	if err != nil {
		return fmt.Errorf("invalid cache directory: %w", err)
	}
	c.CacheDir = abs

	if c.MaxCacheSize < 0 {
		return fmt.Errorf("max cache size must not be negative: %d", c.MaxCacheSize)
	}

	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative: %s", c.IdleTimeout)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	return nil
}

// PortFile is where a running daemon records its bound port so clients
// on the same machine can find it.
func (c *Config) PortFile() string {
	return filepath.Join(c.CacheDir, "daemon.port")
}
