package app

import (
	"fmt"
	"os"
	"path/filepath"

	"ckpt-go/internal/config"
)

// Environment variables that relocate ckpt's own files.
const (
	EnvConfigPath = "CKPT_CONFIG_PATH"
	EnvHome       = "CKPT_HOME"
)

// Defaults are the paths ckpt uses when nothing else is configured.
// LogDir and DataDir match what config.NewConfig writes for BaseDir.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	DataDir    string
}

// GetDefaults resolves the default paths. CKPT_CONFIG_PATH overrides
// ~/.config/ckpt.toml and CKPT_HOME overrides ~/.local/share/ckpt.
func GetDefaults() (Defaults, error) {
	var d Defaults

	d.ConfigPath = os.Getenv(EnvConfigPath)
	d.BaseDir = os.Getenv(EnvHome)
	if d.ConfigPath == "" || d.BaseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if d.ConfigPath == "" {
			d.ConfigPath = filepath.Join(home, ".config", "ckpt.toml")
		}
		if d.BaseDir == "" {
			d.BaseDir = filepath.Join(home, ".local", "share", "ckpt")
		}
	}

	d.LogDir = config.LogDir(d.BaseDir)
	d.DataDir = config.DataDir(d.BaseDir)
	return d, nil
}
