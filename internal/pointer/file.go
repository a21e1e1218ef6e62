// Package pointer stores the name of the latest committed checkpoint.
package pointer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ckpt-go/internal/ckpt"
)

// FileStore keeps the pointer in a one-line text file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the location of the pointer file.
func (s *FileStore) Path() string {
	return s.path
}

// Read returns the committed checkpoint name. A missing or blank file means
// nothing has been committed yet.
func (s *FileStore) Read() (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading pointer file: %w", err)
	}

	name, _, _ := strings.Cut(string(data), "\n")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", false, fmt.Errorf("pointer file %s names an invalid checkpoint: %q", s.path, name)
	}
	return name, true, nil
}

// Commit replaces the pointer atomically (temp file + rename).
func (s *FileStore) Commit(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\\n") {
		return fmt.Errorf("invalid checkpoint name: %q", name)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating pointer directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.WriteString(name + "\n"); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write pointer: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync pointer: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileStore implements ckpt.PointerStore interface
var _ ckpt.PointerStore = (*FileStore)(nil)
