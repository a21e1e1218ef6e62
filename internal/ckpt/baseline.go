package ckpt

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Baseline is the previous checkpoint's metadata as seen by the walker.
type Baseline interface {
	// Lookup returns the record for a file relative to the source root,
	// or nil if the previous checkpoint did not track it.
	Lookup(relPath string) (*Record, error)

	// Paths returns every tracked relative path, sorted.
	Paths() ([]string, error)
}

// EmptyBaseline is used when there is no prior checkpoint.
type EmptyBaseline struct{}

func (EmptyBaseline) Lookup(string) (*Record, error) { return nil, nil }
func (EmptyBaseline) Paths() ([]string, error)       { return nil, nil }

// MapBaseline is an in-memory baseline keyed by slash-separated relative path.
type MapBaseline map[string]Record

func (m MapBaseline) Lookup(relPath string) (*Record, error) {
	r, ok := m[filepath.ToSlash(relPath)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m MapBaseline) Paths() ([]string, error) {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, filepath.FromSlash(p))
	}
	sort.Strings(paths)
	return paths, nil
}

// SidecarBaseline reads loose sidecars from an unfolded checkpoint copy.
type SidecarBaseline struct {
	fsmgr FilesystemManager
	root  string
	ext   string
}

// NewSidecarBaseline creates a baseline over the loose sidecars under root.
func NewSidecarBaseline(fsmgr FilesystemManager, root, ext string) *SidecarBaseline {
	return &SidecarBaseline{fsmgr: fsmgr, root: root, ext: ext}
}

func (b *SidecarBaseline) Lookup(relPath string) (*Record, error) {
	p := filepath.Join(b.root, relPath+b.ext)
	f, err := b.fsmgr.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening sidecar %s: %w", p, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading sidecar %s: %w", p, err)
	}
	r, err := ParseRecord(data)
	if err != nil {
		return nil, fmt.Errorf("parsing sidecar %s: %w", p, err)
	}
	return &r, nil
}

func (b *SidecarBaseline) Paths() ([]string, error) {
	var paths []string
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := b.fsmgr.ReadDir(filepath.Join(b.root, rel))
		if err != nil {
			return fmt.Errorf("reading %s: %w", filepath.Join(b.root, rel), err)
		}
		for _, e := range entries {
			name := e.Name()
			switch {
			case e.IsDir():
				if err := walk(filepath.Join(rel, name)); err != nil {
					return err
				}
			case e.Type().IsRegular() && strings.HasSuffix(name, b.ext):
				paths = append(paths, filepath.Join(rel, strings.TrimSuffix(name, b.ext)))
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

var (
	_ Baseline = EmptyBaseline{}
	_ Baseline = MapBaseline(nil)
	_ Baseline = (*SidecarBaseline)(nil)
)
