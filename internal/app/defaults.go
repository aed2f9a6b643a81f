package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CTRACK_CONFIG_PATH: config file location (default: ~/.config/ctrack.toml)
//   - CTRACK_HOME: base directory for ctrack data (default: ~/.local/share/ctrack)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path":  configPath,
		"base_dir":     baseDir,
		"storage_root": filepath.Join(baseDir, "data"),
		"log_dir":      filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking CTRACK_CONFIG_PATH first,
// then falling back to ~/.config/ctrack.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("CTRACK_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "ctrack.toml"), nil
}

// getBaseDir returns the base directory for ctrack data, checking CTRACK_HOME
// first, then falling back to the XDG default ~/.local/share/ctrack.
func getBaseDir() (string, error) {
	if path := os.Getenv("CTRACK_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ctrack"), nil
}
