package ckpt

import "time"

// CheckpointLayout is the time layout of checkpoint directory names.
// Names sort lexically in capture order.
const CheckpointLayout = "2006-01-02_15-04_05"

// CheckpointName returns the checkpoint directory name for t.
func CheckpointName(t time.Time) string {
	return t.UTC().Format(CheckpointLayout)
}

// IsCheckpointName reports whether name is a checkpoint directory name.
func IsCheckpointName(name string) bool {
	t, err := time.Parse(CheckpointLayout, name)
	return err == nil && CheckpointName(t) == name
}
