package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ckpt-go/internal/ckpt"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:     "test-host-abc",
		BaseDir:    "/home/user/.local/share/ckpt",
		LogDir:     "/home/user/.local/share/ckpt/log",
		SourceRoot: "/home/user/docs",
		BackupRoot: "/mnt/backup/docs",
		Checkpoint: CheckpointConfig{
			MetaExtension: ".rec",
			ArchiveName:   "records.zip",
			KeepStaging:   true,
			OnError:       "continue",
		},
		Pointer:  PointerConfig{Type: "file", File: "LATEST"},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/ckpt/db"},
		Filesystem: FilesystemConfig{
			Ignore: []string{"node_modules", ".git"},
		},
		Lock: LockConfig{TimeoutSeconds: 3},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.SourceRoot != original.SourceRoot {
		t.Errorf("SourceRoot = %q, want %q", got.SourceRoot, original.SourceRoot)
	}
	if got.BackupRoot != original.BackupRoot {
		t.Errorf("BackupRoot = %q, want %q", got.BackupRoot, original.BackupRoot)
	}
	if got.Checkpoint != original.Checkpoint {
		t.Errorf("Checkpoint = %+v, want %+v", got.Checkpoint, original.Checkpoint)
	}
	if got.Pointer != original.Pointer {
		t.Errorf("Pointer = %+v, want %+v", got.Pointer, original.Pointer)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.Lock.Timeout() != 3*time.Second {
		t.Errorf("Lock.Timeout() = %v, want 3s", got.Lock.Timeout())
	}
	if len(got.Filesystem.Ignore) != 2 {
		t.Fatalf("len(Filesystem.Ignore) = %d, want 2", len(got.Filesystem.Ignore))
	}
}

func TestManager_Read_Document(t *testing.T) {
	doc := `
host_id     = "h1"
source_root = "/src"
backup_root = "/dst"

[checkpoint]
on_error = "continue"

[pointer]
type = "memory"

[filesystem]
ignore = [".git", "/src/cache"]
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	s := cfg.Settings()
	if s.OnError != ckpt.PolicyContinue {
		t.Errorf("OnError = %q, want %q", s.OnError, ckpt.PolicyContinue)
	}
	if s.MetaExtension != ckpt.DefaultMetaExtension {
		t.Errorf("MetaExtension = %q, want default %q", s.MetaExtension, ckpt.DefaultMetaExtension)
	}
	if s.StagingDir != filepath.Join("/dst", ckpt.DefaultStagingDir) {
		t.Errorf("StagingDir = %q, want under backup root", s.StagingDir)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if cfg.Pointer.Type != "memory" {
		t.Errorf("Pointer.Type = %q, want memory", cfg.Pointer.Type)
	}
	if cfg.Lock.Timeout() != DefaultLockTimeout {
		t.Errorf("Lock.Timeout() = %v, want %v", cfg.Lock.Timeout(), DefaultLockTimeout)
	}
}

func TestManager_Read_Invalid(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader("source_root = [")); err == nil {
		t.Fatal("Read() expected error for malformed TOML")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/ckpt", "/src", "/dst")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.BaseDir != "/data/ckpt" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/ckpt")
	}
	if cfg.LogDir != "/data/ckpt/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/ckpt/log")
	}
	if cfg.Database.DataDir != "/data/ckpt/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/ckpt/db")
	}
	if cfg.Pointer.File != ckpt.DefaultPointerFile {
		t.Errorf("Pointer.File = %q, want %q", cfg.Pointer.File, ckpt.DefaultPointerFile)
	}
	if err := cfg.Settings().Validate(); err != nil {
		t.Errorf("Settings().Validate() error = %v", err)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ckpt.toml")
		cfg := NewConfig("h1", dir, "/src", "/dst")

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ckpt.toml")
		cfg := NewConfig("h1", dir, "/src", "/dst")

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "ckpt.toml")
		cfg := NewConfig("read-test", dir, "/src", "/dst")
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/ckpt.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
