package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the state directory (useful for tests and portable installs)
const HomeEnv = "SURGEMIRROR_HOME"

// GetSurgeDir returns the directory holding settings, logs and the metrics database.
func GetSurgeDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "surgemirror")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".surgemirror")
}

// GetLogsDir returns the directory for rotated log files.
func GetLogsDir() string {
	return filepath.Join(GetSurgeDir(), "logs")
}

// EnsureDirs creates the state and log directories.
func EnsureDirs() error {
	for _, dir := range []string{GetSurgeDir(), GetLogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
