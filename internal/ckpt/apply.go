package ckpt

import (
	"fmt"
	"path/filepath"
)

// checkpointWriter applies walk events to a new checkpoint directory:
// directories are mirrored, every tracked file gets a sidecar, and content
// is copied only for changed files.
type checkpointWriter struct {
	fsmgr    FilesystemManager
	settings Settings
	dest     string
	report   *Report
	logger   Logger
}

func (c *checkpointWriter) Visit(ev Event) error {
	switch ev.Kind {
	case EventDir:
		if err := c.fsmgr.MkdirAll(filepath.Join(c.dest, ev.RelPath)); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	case EventFileChanged, EventFileUnchanged:
		dst := filepath.Join(c.dest, ev.RelPath)
		if err := writeSidecar(c.fsmgr, c.settings, dst, ev.Current); err != nil {
			return err
		}
		if ev.Kind == EventFileUnchanged {
			c.logger.Debug("no changes", "path", ev.AbsPath)
			break
		}
		n, err := c.fsmgr.CopyFile(ev.AbsPath, dst)
		if err != nil {
			return fmt.Errorf("copying content: %w", err)
		}
		if n != ev.Current.Size {
			return fmt.Errorf("file changed during backup: recorded %d bytes, copied %d", ev.Current.Size, n)
		}
		c.report.BytesCopied += n
		c.logger.Info("file copied", "path", ev.AbsPath, "size", n)
	case EventFileRemoved:
		c.logger.Info("file no longer in source", "path", ev.RelPath)
	}
	c.report.observe(ev)
	return nil
}

// sidecarWriter writes a sidecar next to every file of the walked tree.
type sidecarWriter struct {
	fsmgr    FilesystemManager
	settings Settings
	report   *Report
	logger   Logger
}

func (s *sidecarWriter) Visit(ev Event) error {
	switch ev.Kind {
	case EventFileChanged, EventFileUnchanged:
		if err := writeSidecar(s.fsmgr, s.settings, ev.AbsPath, ev.Current); err != nil {
			return err
		}
		s.logger.Debug("sidecar written", "path", ev.AbsPath)
	}
	s.report.observe(ev)
	return nil
}

// collector records events without touching the filesystem.
type collector struct {
	report *Report
}

func (c *collector) Visit(ev Event) error {
	c.report.observe(ev)
	return nil
}

// writeSidecar stores rec next to the tracked file path filePath.
func writeSidecar(fsmgr FilesystemManager, settings Settings, filePath string, rec Record) error {
	dir := filepath.Dir(filePath)
	if err := fsmgr.MkdirAll(dir); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	p := filepath.Join(dir, settings.SidecarName(filepath.Base(filePath)))
	if err := fsmgr.WriteFile(p, rec.Marshal()); err != nil {
		return fmt.Errorf("writing sidecar %s: %w", p, err)
	}
	return nil
}
