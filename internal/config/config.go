package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"ckpt-go/internal/ckpt"
)

// Config represents the main configuration for ckpt.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	SourceRoot string           `toml:"source_root"`
	BackupRoot string           `toml:"backup_root"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Pointer    PointerConfig    `toml:"pointer"`
	Database   DatabaseConfig   `toml:"database"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Lock       LockConfig       `toml:"lock"`
}

// CheckpointConfig holds the layout and behaviour of checkpoint runs.
// Empty fields fall back to the engine defaults.
type CheckpointConfig struct {
	MetaExtension string `toml:"meta_extension"`
	ArchiveName   string `toml:"archive_name"`
	StagingDir    string `toml:"staging_dir"` // defaults to <backup_root>/.staging
	KeepStaging   bool   `toml:"keep_staging"`
	OnError       string `toml:"on_error"` // "abort" (default) or "continue"
}

// PointerConfig represents configuration for the latest-checkpoint pointer.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PointerConfig struct {
	Type string `toml:"type"`           // "file" (default) or "memory"
	File string `toml:"file,omitempty"` // name inside backup_root; only used for type=file
}

// DatabaseConfig represents configuration for the run catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// LockConfig controls the run lock that serialises runs on one host.
type LockConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// DefaultLockTimeout is used when no lock timeout is configured.
const DefaultLockTimeout = 10 * time.Second

// Timeout returns the configured lock timeout.
func (c LockConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultLockTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LogDir returns the log directory under a ckpt base directory.
func LogDir(baseDir string) string {
	return filepath.Join(baseDir, "log")
}

// DataDir returns the catalog directory under a ckpt base directory.
func DataDir(baseDir string) string {
	return filepath.Join(baseDir, "db")
}

// NewConfig creates a new Config with the provided values and default sections.
func NewConfig(hostID, baseDir, sourceRoot, backupRoot string) *Config {
	return &Config{
		HostID:     hostID,
		BaseDir:    baseDir,
		LogDir:     LogDir(baseDir),
		SourceRoot: sourceRoot,
		BackupRoot: backupRoot,
		Checkpoint: CheckpointConfig{
			MetaExtension: ckpt.DefaultMetaExtension,
			ArchiveName:   ckpt.DefaultArchiveName,
			OnError:       string(ckpt.PolicyAbort),
		},
		Pointer: PointerConfig{
			Type: "file",
			File: ckpt.DefaultPointerFile,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: DataDir(baseDir),
		},
		Filesystem: FilesystemConfig{
			Ignore: []string{".git"},
		},
		Lock: LockConfig{
			TimeoutSeconds: int(DefaultLockTimeout / time.Second),
		},
	}
}

// Settings converts the configuration into engine settings.
func (c *Config) Settings() ckpt.Settings {
	return ckpt.Settings{
		SourceRoot:    c.SourceRoot,
		BackupRoot:    c.BackupRoot,
		StagingDir:    c.Checkpoint.StagingDir,
		KeepStaging:   c.Checkpoint.KeepStaging,
		MetaExtension: c.Checkpoint.MetaExtension,
		ArchiveName:   c.Checkpoint.ArchiveName,
		OnError:       ckpt.ErrorPolicy(c.Checkpoint.OnError),
	}.WithDefaults()
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
