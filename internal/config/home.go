package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the conveyor home directory
const HomeEnv = "CONVEYOR_HOME"

// GetConveyorHome returns the conveyor home directory
// Priority order:
//  1. CONVEYOR_HOME environment variable (if set)
//  2. .conveyor in the current working directory (fallback)
//
// The directory is created if it doesn't exist
func GetConveyorHome() (string, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".conveyor")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create conveyor home directory: %w", err)
	}
	return home, nil
}

// GetDBPath returns the default database path: $CONVEYOR_HOME/conveyor.db
func GetDBPath() (string, error) {
	home, err := GetConveyorHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "conveyor.db"), nil
}

// GetConfigPath returns the default config path: $CONVEYOR_HOME/config.yaml
func GetConfigPath() (string, error) {
	home, err := GetConveyorHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.yaml"), nil
}

// LoadConfigFromHome loads configuration from $CONVEYOR_HOME/config.yaml
// If the file doesn't exist, returns default configuration without error
func LoadConfigFromHome() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfig(path)
}
