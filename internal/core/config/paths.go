package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveStateDir returns the directory for logs and reports: paths.state_dir
// when set, else $XDG_STATE_HOME/synsched, else ~/.local/state/synsched.
func ResolveStateDir(cfg *Config) (string, error) {
	if cfg != nil && cfg.Paths.StateDir != "" {
		return filepath.Abs(cfg.Paths.StateDir)
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "synsched"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "synsched"), nil
}

// FindConfigFile returns explicit when set, else DefaultFile in cwd if it
// exists, else "".
func FindConfigFile(explicit, cwd string) string {
	if explicit != "" {
		return explicit
	}
	candidate := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
