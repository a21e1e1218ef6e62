package ckpt

// MetadataArchiver folds the sidecars of a directory into one archive and
// reverses that transformation.
type MetadataArchiver interface {
	// Fold moves every sidecar of dir (non-recursively) into dir's archive.
	// Returns the number of sidecars folded.
	Fold(dir string) (int, error)

	// Unfold extracts dir's archive back into loose sidecars and deletes it.
	// Returns the number of sidecars written.
	Unfold(dir string) (int, error)

	// FoldTree applies Fold to root and every non-ignored subdirectory.
	FoldTree(root string) error

	// UnfoldTree applies Unfold to root and every non-ignored subdirectory.
	UnfoldTree(root string) error

	// ReadRecords returns the sidecar members of dir's archive keyed by
	// member name, without extracting them. A missing archive yields an
	// empty map.
	ReadRecords(dir string) (map[string][]byte, error)

	// ReadMember returns a single member of dir's archive.
	ReadMember(dir, name string) ([]byte, bool, error)
}
