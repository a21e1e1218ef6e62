package ckpt

import (
	"io"
	"io/fs"
)

// FilesystemManager provides the filesystem operations the engine needs.
// It abstracts file access so the tree walk can be exercised without
// touching the real filesystem.
type FilesystemManager interface {
	// Resolve validates a raw path and returns a Path object.
	// It resolves the path to an absolute path, stats it, and validates
	// it's a regular file or directory (not a symlink, device, etc.).
	Resolve(rawPath string) (*Path, error)

	// ReadDir returns the entries of a directory sorted by name.
	// Entries are not followed: a symlink is reported as a symlink.
	ReadDir(path string) ([]fs.DirEntry, error)

	// Stat returns fresh file info for a path.
	Stat(path string) (fs.FileInfo, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string) error

	// WriteFile creates or truncates path and writes data to it.
	WriteFile(path string, data []byte) error

	// CopyFile copies the content of src to dst, creating or truncating dst.
	// It returns the number of bytes copied.
	CopyFile(src, dst string) (int64, error)

	// MkdirTemp creates a new, uniquely named directory inside dir.
	MkdirTemp(dir, pattern string) (string, error)

	// RemoveAll removes path and everything under it.
	RemoveAll(path string) error
}

// Matcher reports whether a directory should be left out of walks.
// relativePath is relative to the walk root; absPath is the full path.
type Matcher interface {
	Match(relativePath, absPath string) bool
}

// MatchNothing is a Matcher that never matches.
type MatchNothing struct{}

func (MatchNothing) Match(string, string) bool { return false }
