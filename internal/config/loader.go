package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// Load layers defaults, the global config file, a local config found by
// walking up from the working directory, environment variables, and the
// command's flags, then produces the validated Config.
func (l *Loader) Load(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig()
	l.bindEnvironment()
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("cache_dir", "")
	viper.SetDefault("max_cache_size", 0)
	viper.SetDefault("idle_timeout", DefaultIdleTimeout)
	viper.SetDefault("port", 0)
	viper.SetDefault("log_level", DefaultLogLevel)
	viper.SetDefault("log_format", DefaultLogFormat)
}

// loadGlobalConfig loads the global configuration from the user config
// directory.
func (l *Loader) loadGlobalConfig() {
	base, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalPath := configFileIn(filepath.Join(base, "sccache"), "config")
	if globalPath != "" {
		viper.SetConfigFile(globalPath)
		_ = viper.ReadInConfig()
	}
}

// loadLocalConfig loads project-local configuration found by walking up
// from the working directory.
func (l *Loader) loadLocalConfig() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	localPath := FindLocalConfig(cwd)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.ReadInConfig()
	}
}

// bindEnvironment maps SCCACHE_* environment variables onto config keys
func (l *Loader) bindEnvironment() {
	viper.SetEnvPrefix("SCCACHE")
	viper.AutomaticEnv()
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for _, key := range []string{"cache_dir", "max_cache_size", "idle_timeout", "port", "log_level", "log_format"} {
		flagName := flagNameFor(key)
		if f := cmd.Flags().Lookup(flagName); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

// flagNameFor maps a viper key to its flag spelling.
func flagNameFor(key string) string {
	switch key {
	case "cache_dir":
		return "cache-dir"
	case "max_cache_size":
		return "max-cache-size"
	case "idle_timeout":
		return "idle-timeout"
	case "log_level":
		return "log-level"
	case "log_format":
		return "log-format"
	}

	return key
}
