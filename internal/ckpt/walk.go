package ckpt

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// EventKind classifies one step of a tree walk.
type EventKind int

const (
	// EventDir is emitted before the walker descends into a directory.
	EventDir EventKind = iota
	// EventDirSkipped is emitted for directories matched by the ignore rules.
	EventDirSkipped
	// EventFileChanged is emitted for files whose content must be copied:
	// either no previous record exists or the record differs.
	EventFileChanged
	// EventFileUnchanged is emitted for files whose record matches the baseline.
	EventFileUnchanged
	// EventFileSkipped is emitted for entries that cannot be tracked.
	EventFileSkipped
	// EventFileRemoved is emitted after the walk for baseline files that no
	// longer exist in the source tree.
	EventFileRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventDir:
		return "dir"
	case EventDirSkipped:
		return "dir-skipped"
	case EventFileChanged:
		return "changed"
	case EventFileUnchanged:
		return "unchanged"
	case EventFileSkipped:
		return "skipped"
	case EventFileRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a single classified entry of the walk.
type Event struct {
	Kind    EventKind
	RelPath string // relative to the walk root
	AbsPath string // source path; empty for EventFileRemoved
	Current Record // set for changed and unchanged files
	Last    *Record
	Reason  string // why an entry was skipped
}

// IsNew reports whether a changed file had no previous record.
func (e Event) IsNew() bool {
	return e.Kind == EventFileChanged && e.Last == nil
}

// Visitor consumes walk events. Returning an error marks the entry as failed.
type Visitor func(Event) error

// Walker classifies every entry of a source tree against a baseline.
// It only reads from the source; all effects belong to the Visitor.
type Walker struct {
	fsmgr    FilesystemManager
	settings Settings
	ignore   Matcher
	clock    Clock
	logger   Logger
}

// NewWalker creates a Walker. A nil ignore matcher ignores nothing.
func NewWalker(fsmgr FilesystemManager, settings Settings, ignore Matcher, clock Clock, logger Logger) *Walker {
	if ignore == nil {
		ignore = MatchNothing{}
	}
	return &Walker{
		fsmgr:    fsmgr,
		settings: settings.WithDefaults(),
		ignore:   ignore,
		clock:    clock,
		logger:   logger,
	}
}

// walkState is the bookkeeping of one Walk call.
type walkState struct {
	baseline Baseline
	visit    Visitor
	visited  map[string]bool
	pruned   []string // directories whose baseline files must not be reported removed
	errs     []error
}

// Walk traverses root in pre-order, sorted by name, and hands every entry to
// visit. With PolicyAbort the first failure is returned immediately; with
// PolicyContinue all failures are joined and returned once the walk is done.
func (w *Walker) Walk(root string, baseline Baseline, visit Visitor) error {
	if baseline == nil {
		baseline = EmptyBaseline{}
	}
	st := &walkState{
		baseline: baseline,
		visit:    visit,
		visited:  make(map[string]bool),
	}

	entries, err := w.fsmgr.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading source root %s: %w", root, err)
	}
	if err := w.walkEntries(st, root, "", entries); err != nil {
		return err
	}
	if err := w.reportRemoved(st); err != nil {
		return err
	}

	if len(st.errs) > 0 {
		return fmt.Errorf("%d entries failed: %w", len(st.errs), errors.Join(st.errs...))
	}
	return nil
}

// fail applies the error policy. A non-nil return aborts the walk.
func (w *Walker) fail(st *walkState, err error) error {
	if w.settings.OnError == PolicyAbort {
		return err
	}
	w.logger.Error("entry failed", "error", err)
	st.errs = append(st.errs, err)
	return nil
}

func (w *Walker) walkDir(st *walkState, abs, rel string) error {
	entries, err := w.fsmgr.ReadDir(abs)
	if err != nil {
		st.pruned = append(st.pruned, rel)
		return w.fail(st, fmt.Errorf("reading directory %s: %w", abs, err))
	}
	return w.walkEntries(st, abs, rel, entries)
}

func (w *Walker) walkEntries(st *walkState, absDir, relDir string, entries []fs.DirEntry) error {
	for _, e := range entries {
		name := e.Name()
		abs := filepath.Join(absDir, name)
		rel := filepath.Join(relDir, name)

		switch {
		case e.IsDir():
			if err := w.handleDir(st, abs, rel); err != nil {
				return err
			}
		case e.Type().IsRegular():
			if err := w.handleFile(st, abs, rel, name); err != nil {
				return err
			}
		default:
			st.visited[rel] = true
			ev := Event{Kind: EventFileSkipped, RelPath: rel, AbsPath: abs, Reason: "not a regular file"}
			if err := st.visit(ev); err != nil {
				if err := w.fail(st, fmt.Errorf("%s: %w", rel, err)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (w *Walker) handleDir(st *walkState, abs, rel string) error {
	if w.ignore.Match(rel, abs) {
		w.logger.Info("ignoring directory", "path", abs)
		st.pruned = append(st.pruned, rel)
		if err := st.visit(Event{Kind: EventDirSkipped, RelPath: rel, AbsPath: abs, Reason: "ignored"}); err != nil {
			return w.fail(st, fmt.Errorf("%s: %w", rel, err))
		}
		return nil
	}

	if err := st.visit(Event{Kind: EventDir, RelPath: rel, AbsPath: abs}); err != nil {
		st.pruned = append(st.pruned, rel)
		return w.fail(st, fmt.Errorf("%s: %w", rel, err))
	}
	return w.walkDir(st, abs, rel)
}

func (w *Walker) handleFile(st *walkState, abs, rel, name string) error {
	st.visited[rel] = true

	if w.settings.IsReserved(name) {
		w.logger.Warn("skipping file with reserved name", "path", abs)
		ev := Event{Kind: EventFileSkipped, RelPath: rel, AbsPath: abs, Reason: "reserved name"}
		if err := st.visit(ev); err != nil {
			return w.fail(st, fmt.Errorf("%s: %w", rel, err))
		}
		return nil
	}

	last, err := st.baseline.Lookup(rel)
	if err != nil {
		return w.fail(st, fmt.Errorf("loading previous record for %s: %w", rel, err))
	}

	current, err := CaptureRecord(w.fsmgr, abs, w.clock.Now())
	if err != nil {
		return w.fail(st, fmt.Errorf("capturing %s: %w", rel, err))
	}

	ev := Event{Kind: EventFileChanged, RelPath: rel, AbsPath: abs, Current: current, Last: last}
	if last != nil && Unchanged(*last, current) {
		ev.Kind = EventFileUnchanged
	}
	if err := st.visit(ev); err != nil {
		return w.fail(st, fmt.Errorf("%s: %w", rel, err))
	}
	return nil
}

// reportRemoved emits EventFileRemoved for baseline paths the walk never saw.
func (w *Walker) reportRemoved(st *walkState) error {
	paths, err := st.baseline.Paths()
	if err != nil {
		return w.fail(st, fmt.Errorf("listing previous records: %w", err))
	}
	for _, p := range paths {
		if st.visited[p] || w.isPruned(st, p) {
			continue
		}
		last, err := st.baseline.Lookup(p)
		if err != nil {
			if err := w.fail(st, fmt.Errorf("loading previous record for %s: %w", p, err)); err != nil {
				return err
			}
			continue
		}
		if err := st.visit(Event{Kind: EventFileRemoved, RelPath: p, Last: last}); err != nil {
			if err := w.fail(st, fmt.Errorf("%s: %w", p, err)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Walker) isPruned(st *walkState, rel string) bool {
	for _, dir := range st.pruned {
		if strings.HasPrefix(rel, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
