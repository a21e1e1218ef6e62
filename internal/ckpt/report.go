package ckpt

// Report summarises one run of the engine.
type Report struct {
	RunID       string
	Operation   string
	Checkpoint  string // name of the checkpoint written; empty for previews and metadata runs
	Previous    string // name of the baseline checkpoint, if any
	Dirs        int
	DirsSkipped int
	Files       int // tracked files, changed or not
	New         int
	Modified    int
	Unchanged   int
	Skipped     int
	BytesCopied int64
	Removed     []string
	Changes     []Event // changed and removed files, in walk order
	StagingDir  string  // staging copy kept for inspection
}

// Changed returns the number of files whose content was (or would be) copied.
func (r *Report) Changed() int {
	return r.New + r.Modified
}

// observe updates the counters for an event that was applied successfully.
func (r *Report) observe(ev Event) {
	switch ev.Kind {
	case EventDir:
		r.Dirs++
	case EventDirSkipped:
		r.DirsSkipped++
	case EventFileChanged:
		r.Files++
		if ev.IsNew() {
			r.New++
		} else {
			r.Modified++
		}
		r.Changes = append(r.Changes, ev)
	case EventFileUnchanged:
		r.Files++
		r.Unchanged++
	case EventFileSkipped:
		r.Skipped++
	case EventFileRemoved:
		r.Removed = append(r.Removed, ev.RelPath)
		r.Changes = append(r.Changes, ev)
	}
}
