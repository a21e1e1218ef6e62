package ckpt

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrorPolicy decides what a walk does when a single file fails.
type ErrorPolicy string

const (
	// PolicyAbort stops the walk at the first per-file failure.
	PolicyAbort ErrorPolicy = "abort"
	// PolicyContinue keeps walking, collects every per-file failure and
	// reports them together once the walk is done.
	PolicyContinue ErrorPolicy = "continue"
)

// Defaults for the persisted layout.
const (
	DefaultMetaExtension = ".meta"
	DefaultArchiveName   = ".ckpt-meta.zip"
	DefaultPointerFile   = "latest_checkpoint"
	DefaultStagingDir    = ".staging"
)

// Settings is the explicit configuration threaded through the engine.
type Settings struct {
	SourceRoot    string
	BackupRoot    string
	StagingDir    string // parent of per-run staging copies
	KeepStaging   bool   // leave the staging copy for inspection
	MetaExtension string
	ArchiveName   string
	OnError       ErrorPolicy
}

// WithDefaults returns a copy of s with empty fields filled in.
func (s Settings) WithDefaults() Settings {
	if s.MetaExtension == "" {
		s.MetaExtension = DefaultMetaExtension
	}
	if s.ArchiveName == "" {
		s.ArchiveName = DefaultArchiveName
	}
	if s.StagingDir == "" && s.BackupRoot != "" {
		s.StagingDir = filepath.Join(s.BackupRoot, DefaultStagingDir)
	}
	if s.OnError == "" {
		s.OnError = PolicyAbort
	}
	return s
}

// Validate checks that the settings describe a usable layout.
func (s Settings) Validate() error {
	if s.SourceRoot == "" {
		return fmt.Errorf("source root is not set")
	}
	if s.BackupRoot == "" {
		return fmt.Errorf("backup root is not set")
	}
	if !filepath.IsAbs(s.SourceRoot) || !filepath.IsAbs(s.BackupRoot) {
		return fmt.Errorf("source and backup roots must be absolute paths")
	}
	if filepath.Clean(s.SourceRoot) == filepath.Clean(s.BackupRoot) {
		return fmt.Errorf("source and backup roots are the same directory: %s", s.SourceRoot)
	}
	if !strings.HasPrefix(s.MetaExtension, ".") || len(s.MetaExtension) < 2 {
		return fmt.Errorf("metadata extension must start with '.': %q", s.MetaExtension)
	}
	if strings.HasSuffix(s.ArchiveName, s.MetaExtension) {
		return fmt.Errorf("archive name %q must not carry the metadata extension", s.ArchiveName)
	}
	if strings.ContainsRune(s.ArchiveName, filepath.Separator) {
		return fmt.Errorf("archive name must be a bare file name: %q", s.ArchiveName)
	}
	switch s.OnError {
	case PolicyAbort, PolicyContinue:
	default:
		return fmt.Errorf("unknown error policy: %q", s.OnError)
	}
	return nil
}

// SidecarName returns the sidecar file name for a tracked file name.
func (s Settings) SidecarName(name string) string {
	return name + s.MetaExtension
}

// IsReserved reports whether a file name collides with the metadata layout
// and therefore cannot be tracked.
func (s Settings) IsReserved(name string) bool {
	return strings.HasSuffix(name, s.MetaExtension) || name == s.ArchiveName
}
