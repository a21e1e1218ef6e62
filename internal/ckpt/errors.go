package ckpt

import "errors"

var (
	// ErrMalformedRecord marks a sidecar whose content does not parse as a
	// Change Record. It is a data-format error, never an I/O error.
	ErrMalformedRecord = errors.New("malformed change record")

	// ErrCheckpointExists is returned when the directory for a new checkpoint
	// is already present under the backup root.
	ErrCheckpointExists = errors.New("checkpoint already exists")

	// ErrNoCheckpoint is returned when an operation needs a committed
	// checkpoint and none can be found.
	ErrNoCheckpoint = errors.New("no checkpoint")

	// ErrContentMissing is returned by restore when no checkpoint in the chain
	// holds content matching a file's recorded hash.
	ErrContentMissing = errors.New("content missing from checkpoint chain")

	// ErrRestoreTargetExists is returned when restore would overwrite a file.
	ErrRestoreTargetExists = errors.New("restore target already exists")
)

// IsFormatError reports whether err is a data-format error as opposed to an
// I/O error.
func IsFormatError(err error) bool {
	return errors.Is(err, ErrMalformedRecord)
}
