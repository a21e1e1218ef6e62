package app

import (
	"time"

	"ckpt-go/internal/ckpt"
)

// Operation tracks one CLI command run through the App. Its ID tags every
// log line of the command; commands that write to the backup root or the
// source tree hold the run lock while they execute.
type Operation struct {
	ID       string
	Name     string
	Status   string // "success" or "error"
	Started  time.Time
	Finished time.Time
}

// NewOperation creates an operation started at now.
func NewOperation(name string, now time.Time) *Operation {
	now = now.UTC()
	return &Operation{
		ID:      now.Format("20060102T150405Z"),
		Name:    name,
		Status:  "success",
		Started: now,
	}
}

// Mutating reports whether the operation writes to disk and must therefore
// hold the run lock.
func (op *Operation) Mutating() bool {
	switch op.Name {
	case ckpt.OpBackup, ckpt.OpRegenerate, ckpt.OpRestore:
		return true
	}
	return false
}

// Finish records the outcome of the operation.
func (op *Operation) Finish(err error, now time.Time) {
	op.Finished = now.UTC()
	if err != nil {
		op.Status = "error"
	}
}

// Duration returns how long the operation ran, or zero while it is running.
func (op *Operation) Duration() time.Duration {
	if op.Finished.IsZero() {
		return 0
	}
	return op.Finished.Sub(op.Started)
}
