package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/juju/clock"

	"ckpt-go/internal/archive"
	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
	"ckpt-go/internal/database"
	"ckpt-go/internal/fs"
	"ckpt-go/internal/pointer"
)

// Options tune how an App is built.
type Options struct {
	LogLevel slog.Level
	// KeepStaging overrides the configured keep_staging when set.
	KeepStaging bool
}

// App is the application layer between the CLI and the checkpoint Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, serialises mutating runs with the run lock
// and releases everything on Close.
type App struct {
	cfg      *config.Config
	settings ckpt.Settings
	fsmgr    ckpt.FilesystemManager
	catalog  ckpt.Catalog
	service  *ckpt.Service
	op       *Operation
	logger   ckpt.Logger
	clock    ckpt.Clock
	logFile  *os.File
}

// NewApp creates a fully wired App from the given config.
// operation names the CLI command being run (e.g. "Backup", "Restore").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation string, opts Options) (*App, error) {
	settings := cfg.Settings()
	if opts.KeepStaging {
		settings.KeepStaging = true
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clk := ckpt.RealClock{}
	op := NewOperation(operation, clk.Now())

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a, err := wire(cfg, settings, op, logger, clk)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	a.logFile = logFile
	return a, nil
}

// wire builds the service graph. Split from NewApp so tests can supply
// their own logger and clock.
func wire(cfg *config.Config, settings ckpt.Settings, op *Operation, logger ckpt.Logger, clk ckpt.Clock) (*App, error) {
	fsmgr := fs.NewOSFilesystemManager()

	// Read-only operations run without the lock, so they must not stage
	// anything under the backup root or leave staging copies behind.
	if !op.Mutating() {
		settings.KeepStaging = false
		settings.StagingDir = filepath.Join(os.TempDir(), LockName(settings.BackupRoot))
	}

	// The source walk never enters the backup root or the staging area, even
	// when they are configured inside the source tree. The archiver walks
	// checkpoints, which live under the backup root, so it only gets the
	// user's patterns.
	ignore, err := fs.LoadIgnoreMatcher(cfg.Filesystem.Ignore, settings.SourceRoot, settings.BackupRoot, settings.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}
	archiveIgnore, err := fs.LoadIgnoreMatcher(cfg.Filesystem.Ignore, settings.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}

	archiver := archive.NewArchiverFromSettings(settings, archiveIgnore, logger)

	ptr, err := pointer.NewPointerStoreFromConfig(cfg.Pointer, settings.BackupRoot)
	if err != nil {
		return nil, fmt.Errorf("creating pointer store: %w", err)
	}

	catalog, err := database.NewCatalogFromConfig(cfg.Database, cfg.HostID)
	if err != nil {
		return nil, fmt.Errorf("creating catalog: %w", err)
	}

	svc, err := ckpt.NewService(settings, fsmgr, archiver, ptr, catalog, ignore, archiveIgnore, logger, clk, ckpt.UUIDGenerator{})
	if err != nil {
		catalog.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		settings: svc.Settings(),
		fsmgr:    fsmgr,
		catalog:  catalog,
		service:  svc,
		op:       op,
		logger:   logger,
		clock:    clk,
	}, nil
}

// Settings returns the effective engine settings.
func (a *App) Settings() ckpt.Settings {
	return a.settings
}

// withLock runs fn while holding the run lock when the operation mutates
// the backup root or the source tree.
func (a *App) withLock(fn func() error) error {
	if !a.op.Mutating() {
		return fn()
	}
	releaser, err := AcquireRunLock(a.settings.BackupRoot, a.cfg.Lock.Timeout(), clock.WallClock)
	if err != nil {
		return err
	}
	defer releaser.Release()
	a.logger.Debug("run lock acquired", "name", LockName(a.settings.BackupRoot))
	return fn()
}

// Backup creates a new checkpoint and commits it as the latest one.
func (a *App) Backup() (*ckpt.Report, error) {
	var report *ckpt.Report
	err := a.withLock(func() error {
		var err error
		report, err = a.service.Backup()
		return err
	})
	return report, a.record(err)
}

// Preview reports what the next Backup would do without writing anything.
func (a *App) Preview() (*ckpt.Report, error) {
	report, err := a.service.Preview()
	return report, a.record(err)
}

// RegenerateMetadata resolves rawDir and rewrites the metadata of every
// file below it in place.
func (a *App) RegenerateMetadata(rawDir string) (*ckpt.Report, error) {
	p, err := a.fsmgr.Resolve(rawDir)
	if err != nil {
		return nil, a.record(fmt.Errorf("resolving path: %w", err))
	}
	if !p.IsDir() {
		return nil, a.record(fmt.Errorf("not a directory: %s", p))
	}

	var report *ckpt.Report
	err = a.withLock(func() error {
		var err error
		report, err = a.service.RegenerateMetadata(p)
		return err
	})
	return report, a.record(err)
}

// ListCheckpoints returns the checkpoints under the backup root, oldest first.
func (a *App) ListCheckpoints() ([]ckpt.CheckpointInfo, error) {
	cps, err := a.service.ListCheckpoints()
	return cps, a.record(err)
}

// FileHistory returns the history of the file at rawPath, newest first.
// The path does not need to exist on disk; relative paths are taken
// relative to the working directory.
func (a *App) FileHistory(rawPath string) ([]ckpt.FileHistoryEntry, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, a.record(fmt.Errorf("resolving path: %w", err))
	}
	history, err := a.service.FileHistory(absPath)
	return history, a.record(err)
}

// Restore writes the files under rawPath as of checkpoint into dest. An
// empty rawPath restores the whole tree; an empty checkpoint means the
// latest one; an empty dest means a "restore-<checkpoint>" directory in the
// working directory.
func (a *App) Restore(checkpoint, rawPath, dest string) ([]ckpt.RestoredFile, string, error) {
	var prefix string
	if rawPath != "" {
		absPath, err := filepath.Abs(rawPath)
		if err != nil {
			return nil, "", a.record(fmt.Errorf("resolving path: %w", err))
		}
		prefix = absPath
	}

	if dest == "" {
		name := checkpoint
		if name == "" {
			name = "latest"
		}
		dest = "restore-" + name
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return nil, "", a.record(fmt.Errorf("resolving destination: %w", err))
	}

	var restored []ckpt.RestoredFile
	err = a.withLock(func() error {
		var err error
		restored, err = a.service.Restore(checkpoint, prefix, absDest)
		return err
	})
	return restored, absDest, a.record(err)
}

// Runs returns the most recent runs recorded in the catalog.
func (a *App) Runs(limit int) ([]*ckpt.Run, error) {
	runs, err := a.service.Runs(limit)
	return runs, a.record(err)
}

// record marks the operation failed when err is non-nil and passes err on.
func (a *App) record(err error) error {
	if err != nil {
		a.op.Status = "error"
	}
	return err
}

// Close finishes the operation and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Status == "error" {
		a.op.Finish(fmt.Errorf("operation failed"), a.clock.Now())
	} else {
		a.op.Finish(nil, a.clock.Now())
	}
	a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "duration", a.op.Duration())

	if err := a.catalog.Close(); err != nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
