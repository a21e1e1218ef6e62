package ckpt

import "time"

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCommitted RunStatus = "committed"
	RunFailed    RunStatus = "failed"
)

// Operation names recorded in the catalog.
const (
	OpBackup     = "Backup"
	OpRegenerate = "RegenerateMetadata"
	OpRestore    = "Restore"
)

// Run is one recorded engine run.
type Run struct {
	ID          string
	Operation   string
	Checkpoint  string
	Previous    string
	SourceRoot  string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while the run is in progress
	Status      RunStatus
	Files       int
	Changed     int
	Unchanged   int
	Removed     int
	BytesCopied int64
	Error       string
}

// Finished reports whether the run has been closed.
func (r *Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Catalog records the history of runs against a backup root.
// It is informational: the pointer store alone decides which checkpoint
// is current.
type Catalog interface {
	// BeginRun stores a new run in the running state.
	BeginRun(run *Run) error

	// FinishRun updates the status, counters and finish time of a run.
	FinishRun(run *Run) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*Run, error)

	// Close releases the catalog.
	Close() error
}
