// Package archive folds the per-file sidecars of a directory into a single
// zip archive and extracts them again.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ckpt-go/internal/ckpt"
)

// Archiver implements ckpt.MetadataArchiver on the local filesystem.
// Folding and unfolding are atomic per directory only.
type Archiver struct {
	ext    string
	name   string
	ignore ckpt.Matcher
	logger ckpt.Logger
}

// NewArchiver creates an Archiver for sidecars carrying ext, folded into
// archives called name. A nil ignore matcher ignores nothing.
func NewArchiver(ext, name string, ignore ckpt.Matcher, logger ckpt.Logger) *Archiver {
	if ignore == nil {
		ignore = ckpt.MatchNothing{}
	}
	return &Archiver{ext: ext, name: name, ignore: ignore, logger: logger}
}

// NewArchiverFromSettings creates an Archiver using the layout of settings.
func NewArchiverFromSettings(settings ckpt.Settings, ignore ckpt.Matcher, logger ckpt.Logger) *Archiver {
	settings = settings.WithDefaults()
	return NewArchiver(settings.MetaExtension, settings.ArchiveName, ignore, logger)
}

// Fold moves every loose sidecar of dir into dir's archive. Members of an
// existing archive are carried over unless a loose sidecar replaces them.
func (a *Archiver) Fold(dir string) (int, error) {
	sidecars, err := a.looseSidecars(dir)
	if err != nil {
		return 0, err
	}
	if len(sidecars) == 0 {
		return 0, nil
	}

	members, err := a.ReadRecords(dir)
	if err != nil {
		return 0, err
	}
	for _, name := range sidecars {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return 0, fmt.Errorf("reading sidecar %s: %w", name, err)
		}
		members[name] = data
	}

	if err := a.writeArchive(filepath.Join(dir, a.name), members); err != nil {
		return 0, err
	}

	for _, name := range sidecars {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return 0, fmt.Errorf("removing folded sidecar %s: %w", name, err)
		}
	}

	a.logger.Debug("metadata folded", "dir", dir, "sidecars", len(sidecars), "members", len(members))
	return len(sidecars), nil
}

// Unfold extracts dir's archive into loose sidecars and deletes the archive.
// Existing sidecars are left untouched.
func (a *Archiver) Unfold(dir string) (int, error) {
	archivePath := filepath.Join(dir, a.name)
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}

	written := 0
	for _, f := range zr.File {
		if !a.isMemberName(f.Name) {
			a.logger.Warn("skipping archive member", "archive", archivePath, "member", f.Name)
			continue
		}
		out := filepath.Join(dir, f.Name)
		if _, err := os.Lstat(out); err == nil {
			a.logger.Debug("sidecar already present", "path", out)
			continue
		}
		if err := extract(f, out); err != nil {
			zr.Close()
			return written, fmt.Errorf("extracting %s from %s: %w", f.Name, archivePath, err)
		}
		written++
	}
	if err := zr.Close(); err != nil {
		return written, fmt.Errorf("closing archive %s: %w", archivePath, err)
	}

	if err := os.Remove(archivePath); err != nil {
		return written, fmt.Errorf("removing archive %s: %w", archivePath, err)
	}

	a.logger.Debug("metadata unfolded", "dir", dir, "sidecars", written)
	return written, nil
}

// FoldTree folds root and every non-ignored directory below it.
func (a *Archiver) FoldTree(root string) error {
	return a.eachDir(root, func(dir string) error {
		_, err := a.Fold(dir)
		return err
	})
}

// UnfoldTree unfolds root and every non-ignored directory below it.
func (a *Archiver) UnfoldTree(root string) error {
	return a.eachDir(root, func(dir string) error {
		_, err := a.Unfold(dir)
		return err
	})
}

// ReadRecords returns the members of dir's archive that carry the metadata
// extension. A missing archive yields an empty map.
func (a *Archiver) ReadRecords(dir string) (map[string][]byte, error) {
	members := make(map[string][]byte)
	archivePath := filepath.Join(dir, a.name)
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return members, nil
		}
		return nil, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if !a.isMemberName(f.Name) {
			continue
		}
		data, err := readMember(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s from %s: %w", f.Name, archivePath, err)
		}
		members[f.Name] = data
	}
	return members, nil
}

// ReadMember returns one member of dir's archive.
func (a *Archiver) ReadMember(dir, name string) ([]byte, bool, error) {
	archivePath := filepath.Join(dir, a.name)
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		data, err := readMember(f)
		if err != nil {
			return nil, false, fmt.Errorf("reading %s from %s: %w", name, archivePath, err)
		}
		return data, true, nil
	}
	return nil, false, nil
}

func (a *Archiver) eachDir(root string, fn func(dir string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if a.ignore.Match(rel, path) {
				return filepath.SkipDir
			}
		}
		return fn(path)
	})
}

// looseSidecars lists the sidecar files directly inside dir, sorted.
func (a *Archiver) looseSidecars(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && a.isMemberName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// isMemberName reports whether name is a bare sidecar file name.
func (a *Archiver) isMemberName(name string) bool {
	if !strings.HasSuffix(name, a.ext) || len(name) == len(a.ext) {
		return false
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return false
	}
	return name != a.name
}

// writeArchive writes members, sorted by name, to a temp file next to dest
// and renames it into place.
func (a *Archiver) writeArchive(dest string, members map[string][]byte) error {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("adding %s to archive: %w", name, err)
		}
		if _, err := w.Write(members[name]); err != nil {
			return fmt.Errorf("writing %s to archive: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finishing archive: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
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

	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extract(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Compile-time check that Archiver implements ckpt.MetadataArchiver
var _ ckpt.MetadataArchiver = (*Archiver)(nil)
