package ckpt

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// Service is the checkpoint chain driver. It resolves the previous
// checkpoint, stages its metadata, walks the source tree into a new
// checkpoint, folds the new metadata and commits the pointer.
type Service struct {
	settings Settings
	fsmgr    FilesystemManager
	archiver MetadataArchiver
	pointer  PointerStore
	catalog  Catalog
	walker   *Walker // source walk
	metaWalk *Walker // metadata regeneration walk
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// NewService creates a Service with the provided dependencies.
// ignore prunes the source walk; metaIgnore prunes RegenerateMetadata, which
// may run on directories the source walk never enters (such as checkpoints
// under the backup root).
// Runs against one backup root must be serialised by the caller.
func NewService(settings Settings, fsmgr FilesystemManager, archiver MetadataArchiver, pointer PointerStore, catalog Catalog, ignore, metaIgnore Matcher, logger Logger, clock Clock, idgen IDGenerator) (*Service, error) {
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &Service{
		settings: settings,
		fsmgr:    fsmgr,
		archiver: archiver,
		pointer:  pointer,
		catalog:  catalog,
		walker:   NewWalker(fsmgr, settings, ignore, clock, logger),
		metaWalk: NewWalker(fsmgr, settings, metaIgnore, clock, logger),
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}, nil
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// Backup produces a new checkpoint of the source root and commits it as the
// latest one. The pointer is only written once every other step succeeded;
// a failed run may leave a partial checkpoint directory behind.
func (s *Service) Backup() (*Report, error) {
	run, err := s.beginRun(OpBackup)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: run.ID, Operation: OpBackup}

	err = s.backup(run, report)
	s.finishRun(run, report, err)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) backup(run *Run, report *Report) error {
	previous, err := s.resolvePrevious()
	if err != nil {
		return err
	}

	name := CheckpointName(s.clock.Now())
	dest := filepath.Join(s.settings.BackupRoot, name)
	if _, err := s.fsmgr.Stat(dest); err == nil {
		return fmt.Errorf("%w: %s", ErrCheckpointExists, dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking checkpoint directory: %w", err)
	}

	run.Checkpoint, run.Previous = name, previous
	report.Checkpoint, report.Previous = name, previous
	s.logger.Info("backup started", "source", s.settings.SourceRoot, "checkpoint", name, "previous", previous)

	baseline, cleanup, err := s.baselineFor(previous, report)
	defer cleanup()
	if err != nil {
		return err
	}

	if err := s.fsmgr.MkdirAll(dest); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	writer := &checkpointWriter{
		fsmgr:    s.fsmgr,
		settings: s.settings,
		dest:     dest,
		report:   report,
		logger:   s.logger,
	}
	if err := s.walker.Walk(s.settings.SourceRoot, baseline, writer.Visit); err != nil {
		return fmt.Errorf("diffing source tree: %w", err)
	}

	if err := s.archiver.FoldTree(dest); err != nil {
		return fmt.Errorf("archiving checkpoint metadata: %w", err)
	}

	if err := s.pointer.Commit(name); err != nil {
		return fmt.Errorf("committing checkpoint %s: %w", name, err)
	}

	s.logger.Info("checkpoint committed", "checkpoint", name, "files", report.Files, "copied", report.Changed(), "bytes", report.BytesCopied)
	return nil
}

// Preview diffs the source root against the latest checkpoint without
// writing anything.
func (s *Service) Preview() (*Report, error) {
	previous, err := s.resolvePrevious()
	if err != nil {
		return nil, err
	}
	report := &Report{Operation: "Preview", Previous: previous}

	baseline, cleanup, err := s.baselineFor(previous, report)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	c := &collector{report: report}
	if err := s.walker.Walk(s.settings.SourceRoot, baseline, c.Visit); err != nil {
		return report, fmt.Errorf("diffing source tree: %w", err)
	}
	s.logger.Info("preview finished", "previous", previous, "new", report.New, "modified", report.Modified, "removed", len(report.Removed))
	return report, nil
}

// RegenerateMetadata captures a record for every file under dir and folds
// them into per-directory archives. No baseline or pointer is involved.
func (s *Service) RegenerateMetadata(dir *Path) (*Report, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir.String())
	}

	run, err := s.beginRun(OpRegenerate)
	if err != nil {
		return nil, err
	}
	run.SourceRoot = dir.String()
	report := &Report{RunID: run.ID, Operation: OpRegenerate}

	err = s.regenerate(dir.String(), report)
	s.finishRun(run, report, err)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) regenerate(dir string, report *Report) error {
	w := &sidecarWriter{
		fsmgr:    s.fsmgr,
		settings: s.settings,
		report:   report,
		logger:   s.logger,
	}
	if err := s.metaWalk.Walk(dir, EmptyBaseline{}, w.Visit); err != nil {
		return fmt.Errorf("capturing records: %w", err)
	}
	if err := s.archiver.FoldTree(dir); err != nil {
		return fmt.Errorf("archiving metadata: %w", err)
	}
	s.logger.Info("metadata regenerated", "path", dir, "files", report.Files)
	return nil
}

// resolvePrevious returns the name of the committed checkpoint to diff
// against, or "" when there is none.
func (s *Service) resolvePrevious() (string, error) {
	name, ok, err := s.pointer.Read()
	if err != nil {
		return "", fmt.Errorf("reading latest checkpoint pointer: %w", err)
	}
	if !ok {
		s.logger.Info("no previous checkpoint")
		return "", nil
	}

	info, err := s.fsmgr.Stat(filepath.Join(s.settings.BackupRoot, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("pointer names a missing checkpoint, starting a new chain", "checkpoint", name)
			return "", nil
		}
		return "", fmt.Errorf("checking previous checkpoint: %w", err)
	}
	if !info.IsDir() {
		s.logger.Warn("pointer names a non-directory, starting a new chain", "checkpoint", name)
		return "", nil
	}
	return name, nil
}

// baselineFor stages the metadata of the previous checkpoint and returns a
// baseline over it. cleanup is always safe to call.
func (s *Service) baselineFor(previous string, report *Report) (Baseline, func(), error) {
	nop := func() {}
	if previous == "" {
		return EmptyBaseline{}, nop, nil
	}

	staging, err := s.stagePrevious(previous)
	if staging == "" {
		return nil, nop, err
	}
	cleanup := func() { s.cleanupStaging(staging, report) }
	if err != nil {
		return nil, cleanup, err
	}
	return NewSidecarBaseline(s.fsmgr, staging, s.settings.MetaExtension), cleanup, nil
}

// stagePrevious copies the metadata archives of a checkpoint into a fresh
// temporary directory and unfolds them there. The committed checkpoint is
// never modified.
func (s *Service) stagePrevious(name string) (string, error) {
	if err := s.fsmgr.MkdirAll(s.settings.StagingDir); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}
	staging, err := s.fsmgr.MkdirTemp(s.settings.StagingDir, name+"-*")
	if err != nil {
		return "", fmt.Errorf("creating staging copy: %w", err)
	}

	src := filepath.Join(s.settings.BackupRoot, name)
	n, err := s.copyArchives(src, staging)
	if err != nil {
		return staging, fmt.Errorf("staging previous checkpoint: %w", err)
	}
	if err := s.archiver.UnfoldTree(staging); err != nil {
		return staging, fmt.Errorf("unfolding previous checkpoint: %w", err)
	}

	s.logger.Debug("previous checkpoint staged", "checkpoint", name, "staging", staging, "archives", n)
	return staging, nil
}

// copyArchives mirrors the directory structure of src into dst, copying only
// the metadata archives.
func (s *Service) copyArchives(src, dst string) (int, error) {
	entries, err := s.fsmgr.ReadDir(src)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", src, err)
	}

	count := 0
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		switch {
		case e.IsDir():
			if err := s.fsmgr.MkdirAll(to); err != nil {
				return count, fmt.Errorf("creating %s: %w", to, err)
			}
			n, err := s.copyArchives(from, to)
			count += n
			if err != nil {
				return count, err
			}
		case e.Type().IsRegular() && e.Name() == s.settings.ArchiveName:
			if _, err := s.fsmgr.CopyFile(from, to); err != nil {
				return count, fmt.Errorf("copying %s: %w", from, err)
			}
			count++
		}
	}
	return count, nil
}

func (s *Service) cleanupStaging(staging string, report *Report) {
	if s.settings.KeepStaging {
		report.StagingDir = staging
		s.logger.Info("staging copy kept", "path", staging)
		return
	}
	if err := s.fsmgr.RemoveAll(staging); err != nil {
		s.logger.Warn("removing staging copy", "path", staging, "error", err)
	}
}

func (s *Service) beginRun(operation string) (*Run, error) {
	run := &Run{
		ID:         s.idgen.New(),
		Operation:  operation,
		SourceRoot: s.settings.SourceRoot,
		StartedAt:  s.clock.Now(),
		Status:     RunRunning,
	}
	if err := s.catalog.BeginRun(run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}
	return run, nil
}

// finishRun closes the catalog entry. Catalog failures are logged, never
// returned: the pointer, not the catalog, decides what is committed.
func (s *Service) finishRun(run *Run, report *Report, runErr error) {
	run.FinishedAt = s.clock.Now()
	run.Files = report.Files
	run.Changed = report.Changed()
	run.Unchanged = report.Unchanged
	run.Removed = len(report.Removed)
	run.BytesCopied = report.BytesCopied
	run.Status = RunCommitted
	if runErr != nil {
		run.Status = RunFailed
		run.Error = runErr.Error()
		s.logger.Error("run failed", "operation", run.Operation, "error", runErr)
	}
	if err := s.catalog.FinishRun(run); err != nil {
		s.logger.Warn("recording run result", "run", run.ID, "error", err)
	}
}
