package ckpt

import (
	"fmt"
	"path/filepath"
)

// FileHistoryEntry is the state of one file in one checkpoint.
type FileHistoryEntry struct {
	Checkpoint string
	Record     Record
	HasContent bool // the checkpoint holds a copy of the file
	IsLatest   bool
}

// FileHistory returns the records of a file across all checkpoints that
// track it, newest first.
func (s *Service) FileHistory(path string) ([]FileHistoryEntry, error) {
	rel, err := s.SourceRelative(path)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		return nil, fmt.Errorf("path %s is the source root, not a file", path)
	}

	checkpoints, err := s.ListCheckpoints()
	if err != nil {
		return nil, err
	}

	var out []FileHistoryEntry
	for i := len(checkpoints) - 1; i >= 0; i-- {
		cp := checkpoints[i]
		rec, ok, err := s.memberRecord(cp.Name, rel)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entry := FileHistoryEntry{Checkpoint: cp.Name, Record: rec, IsLatest: cp.IsLatest}
		if info, err := s.fsmgr.Stat(filepath.Join(s.settings.BackupRoot, cp.Name, rel)); err == nil && info.Mode().IsRegular() {
			entry.HasContent = true
		}
		out = append(out, entry)
	}
	return out, nil
}

// Runs returns the most recent runs from the catalog, newest first.
func (s *Service) Runs(limit int) ([]*Run, error) {
	runs, err := s.catalog.ListRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
