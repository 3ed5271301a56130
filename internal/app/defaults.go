package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TC_CONFIG_PATH: config file location (default: ~/.config/tc.toml)
//   - TC_COLLECTION_DIR: local collection folder (no default; required at init)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path":    configPath,
		"collection_dir": os.Getenv("TC_COLLECTION_DIR"),
	}, nil
}

// getConfigPath returns the config file path, checking TC_CONFIG_PATH env
// var first, then falling back to the default ~/.config/tc.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("TC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "tc.toml"), nil
}
