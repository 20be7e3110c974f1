package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths stores resolved runtime file locations for config, journal and logs.
type Paths struct {
	RootDir    string
	ConfigFile string
	DBFile     string
	LogFile    string
}

// ResolvePaths places everything under the user config dir. A non-empty
// configOverride replaces the config file location only.
func ResolvePaths(configOverride string) (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	configFile := filepath.Join(root, ConfigFilename)
	if override := strings.TrimSpace(configOverride); override != "" {
		abs, err := filepath.Abs(override)
		if err != nil {
			return Paths{}, fmt.Errorf("resolve config path: %w", err)
		}
		configFile = abs
	}

	return Paths{
		RootDir:    root,
		ConfigFile: configFile,
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
	}, nil
}
