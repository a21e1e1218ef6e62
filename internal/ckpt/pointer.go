package ckpt

// PointerStore is the durable "latest checkpoint" record of a backup root.
// It is the sole durability gate: Commit is called only after a run has
// fully succeeded.
type PointerStore interface {
	// Read returns the name of the last committed checkpoint.
	// ok is false when no checkpoint has been committed yet.
	Read() (name string, ok bool, err error)

	// Commit records name as the latest checkpoint.
	Commit(name string) error
}
