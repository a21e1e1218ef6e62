package ckpt

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CheckpointInfo describes one checkpoint directory under the backup root.
type CheckpointInfo struct {
	Name     string
	Time     time.Time
	IsLatest bool
}

// ListCheckpoints returns the checkpoints under the backup root, oldest first.
// Directories that are not named like checkpoints are not listed.
func (s *Service) ListCheckpoints() ([]CheckpointInfo, error) {
	entries, err := s.fsmgr.ReadDir(s.settings.BackupRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup root: %w", err)
	}

	latest, _, err := s.pointer.Read()
	if err != nil {
		return nil, fmt.Errorf("reading latest checkpoint pointer: %w", err)
	}

	var out []CheckpointInfo
	for _, e := range entries {
		if !e.IsDir() || !IsCheckpointName(e.Name()) {
			continue
		}
		t, _ := time.Parse(CheckpointLayout, e.Name())
		out = append(out, CheckpointInfo{Name: e.Name(), Time: t, IsLatest: e.Name() == latest})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RestoredFile is one file written by Restore.
type RestoredFile struct {
	RelPath string
	From    string // checkpoint the content was taken from
	Size    int64
}

// Restore writes the files tracked by a checkpoint into dest. An empty
// checkpoint means the latest committed one; a non-empty prefix limits the
// restore to that file or directory, relative to the source root.
// Content is taken from the newest checkpoint at or before the target whose
// record matches, and every restored file is verified against its record.
// Existing files are never overwritten.
func (s *Service) Restore(checkpoint, prefix, dest string) ([]RestoredFile, error) {
	run, err := s.beginRun(OpRestore)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: run.ID, Operation: OpRestore}

	restored, err := s.restore(run, report, checkpoint, prefix, dest)
	s.finishRun(run, report, err)
	return restored, err
}

func (s *Service) restore(run *Run, report *Report, checkpoint, prefix, dest string) ([]RestoredFile, error) {
	chain, err := s.chainUpTo(checkpoint)
	if err != nil {
		return nil, err
	}
	target := chain[0]
	run.Checkpoint, report.Checkpoint = target, target

	if prefix != "" {
		prefix, err = s.SourceRelative(prefix)
		if err != nil {
			return nil, err
		}
	}

	records, err := s.checkpointRecords(target)
	if err != nil {
		return nil, err
	}

	var paths []string
	for rel := range records {
		if underPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("nothing to restore for %q in checkpoint %s", prefix, target)
	}
	sort.Strings(paths)

	// Check every target first so a refused restore writes nothing.
	for _, rel := range paths {
		out := filepath.Join(dest, rel)
		if _, err := s.fsmgr.Stat(out); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrRestoreTargetExists, out)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checking restore target %s: %w", out, err)
		}
	}

	s.logger.Info("restore started", "checkpoint", target, "prefix", prefix, "dest", dest, "files", len(paths))

	var restored []RestoredFile
	for _, rel := range paths {
		rec := records[rel]
		from, src, err := s.findContent(chain, rel, rec)
		if err != nil {
			return restored, err
		}

		out := filepath.Join(dest, rel)
		if err := s.fsmgr.MkdirAll(filepath.Dir(out)); err != nil {
			return restored, fmt.Errorf("creating directory for %s: %w", out, err)
		}
		if _, err := s.fsmgr.CopyFile(src, out); err != nil {
			return restored, fmt.Errorf("restoring %s: %w", rel, err)
		}

		got, err := CaptureRecord(s.fsmgr, out, s.clock.Now())
		if err != nil {
			return restored, fmt.Errorf("verifying %s: %w", rel, err)
		}
		if !Unchanged(rec, got) {
			if err := s.fsmgr.RemoveAll(out); err != nil {
				s.logger.Warn("removing unverified file", "path", out, "error", err)
			}
			return restored, fmt.Errorf("restored %s does not match its record: want %s, got %s", rel, rec.Hash, got.Hash)
		}

		report.Files++
		report.BytesCopied += got.Size
		restored = append(restored, RestoredFile{RelPath: rel, From: from, Size: got.Size})
		s.logger.Debug("file restored", "path", out, "from", from)
	}

	s.logger.Info("restore finished", "checkpoint", target, "files", len(restored))
	return restored, nil
}

// chainUpTo returns the checkpoint names at or before target, newest first.
// An empty target resolves to the latest committed checkpoint.
func (s *Service) chainUpTo(target string) ([]string, error) {
	if target == "" {
		name, ok, err := s.pointer.Read()
		if err != nil {
			return nil, fmt.Errorf("reading latest checkpoint pointer: %w", err)
		}
		if !ok {
			return nil, ErrNoCheckpoint
		}
		target = name
	}

	all, err := s.ListCheckpoints()
	if err != nil {
		return nil, err
	}

	var chain []string
	found := false
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Name == target {
			found = true
		}
		if found {
			chain = append(chain, all[i].Name)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, target)
	}
	return chain, nil
}

// findContent looks for a copy of rel whose record in its own checkpoint
// matches rec, walking the chain from newest to oldest.
func (s *Service) findContent(chain []string, rel string, rec Record) (string, string, error) {
	for _, name := range chain {
		src := filepath.Join(s.settings.BackupRoot, name, rel)
		info, err := s.fsmgr.Stat(src)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		own, ok, err := s.memberRecord(name, rel)
		if err != nil {
			return "", "", err
		}
		if ok && Unchanged(own, rec) {
			return name, src, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s (%s)", ErrContentMissing, rel, rec.Hash)
}

// memberRecord reads the record of rel from the archive of its directory in
// the named checkpoint.
func (s *Service) memberRecord(checkpoint, rel string) (Record, bool, error) {
	dir := filepath.Join(s.settings.BackupRoot, checkpoint, filepath.Dir(rel))
	data, ok, err := s.archiver.ReadMember(dir, s.settings.SidecarName(filepath.Base(rel)))
	if err != nil {
		return Record{}, false, fmt.Errorf("reading record of %s in %s: %w", rel, checkpoint, err)
	}
	if !ok {
		return Record{}, false, nil
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return Record{}, false, fmt.Errorf("parsing record of %s in %s: %w", rel, checkpoint, err)
	}
	return rec, true, nil
}

// checkpointRecords reads every record archived in a checkpoint, keyed by
// path relative to the source root.
func (s *Service) checkpointRecords(checkpoint string) (map[string]Record, error) {
	root := filepath.Join(s.settings.BackupRoot, checkpoint)
	records := make(map[string]Record)

	var walk func(rel string) error
	walk = func(rel string) error {
		dir := filepath.Join(root, rel)
		members, err := s.archiver.ReadRecords(dir)
		if err != nil {
			return fmt.Errorf("reading records of %s: %w", dir, err)
		}
		for member, data := range members {
			if !strings.HasSuffix(member, s.settings.MetaExtension) {
				continue
			}
			rec, err := ParseRecord(data)
			if err != nil {
				return fmt.Errorf("parsing %s in %s: %w", member, dir, err)
			}
			records[filepath.Join(rel, strings.TrimSuffix(member, s.settings.MetaExtension))] = rec
		}

		entries, err := s.fsmgr.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				if err := walk(filepath.Join(rel, e.Name())); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(""); err != nil {
		return nil, err
	}
	return records, nil
}

// SourceRelative converts a path given by the user into a path relative to
// the source root. Absolute paths must lie inside the source root.
func (s *Service) SourceRelative(p string) (string, error) {
	rel := filepath.Clean(p)
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(s.settings.SourceRoot, rel)
		if err != nil {
			return "", fmt.Errorf("path %s is not under the source root: %w", p, err)
		}
		rel = r
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is not under the source root %s", p, s.settings.SourceRoot)
	}
	if rel == "." {
		return "", nil
	}
	return rel, nil
}

func underPrefix(rel, prefix string) bool {
	return prefix == "" || rel == prefix || strings.HasPrefix(rel, prefix+string(filepath.Separator))
}
