package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - BONEGUIDE_CONFIG_PATH: config file location (default: ~/.config/boneguide.toml)
//   - BONEGUIDE_HOME: base directory for mirror data (default: ~/.local/share/boneguide)
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
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"images_dir":  filepath.Join(baseDir, "images"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("BONEGUIDE_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "boneguide.toml"), nil
}

// getBaseDir follows the XDG data layout unless BONEGUIDE_HOME is set.
func getBaseDir() (string, error) {
	if path := os.Getenv("BONEGUIDE_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "boneguide"), nil
}
