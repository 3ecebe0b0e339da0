package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env holds settings read from DBREP_* environment variables. Command-line
// flags take precedence over these.
type Env struct {
	LogLevel     string `env:"DBREP_LOG_LEVEL"     envDefault:"info"`
	LogFormat    string `env:"DBREP_LOG_FORMAT"    envDefault:"text"`
	DataDir      string `env:"DBREP_DATA_DIR"`
	ConfigDir    string `env:"DBREP_CONFIG_DIR"    envDefault:"."`
	KeyFile      string `env:"DBREP_KEY_FILE"`
	StateFile    string `env:"DBREP_STATE_FILE"`
	SlackWebhook string `env:"DBREP_SLACK_WEBHOOK"`
	SlackChannel string `env:"DBREP_SLACK_CHANNEL"`
}

// ParseEnv loads Env from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, fmt.Errorf("parse env: %w", err)
	}
	e.DataDir = expandTilde(e.DataDir)
	e.ConfigDir = expandTilde(e.ConfigDir)
	e.KeyFile = expandTilde(e.KeyFile)
	e.StateFile = expandTilde(e.StateFile)
	return e, nil
}

// DefaultDataDir returns ~/.dbrep, creating it with mode 0700.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return EnsureDataDir(filepath.Join(home, ".dbrep"))
}

// EnsureDataDir creates dir with mode 0700 and tightens an existing one.
func EnsureDataDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
