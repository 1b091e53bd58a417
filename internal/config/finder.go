package config

import (
	"os"
	"path/filepath"
)

// configExtensions are the file formats accepted for global and local
// config files, in lookup order.
var configExtensions = []string{"yml", "yaml", "json", "toml"}

// configFileIn returns the first config file present in dir with the
// given basename prefix, or "" when none exists.
func configFileIn(dir, prefix string) string {
	for _, ext := range configExtensions {
		path := filepath.Join(dir, prefix+"."+ext)

		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// FindLocalConfig locates a project-local .sccache config by walking up
// from dir toward the filesystem root.
func FindLocalConfig(dir string) string {
	for {
		if path := configFileIn(dir, ".sccache"); path != "" {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}

		dir = parent
	}
}
