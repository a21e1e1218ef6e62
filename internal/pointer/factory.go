package pointer

import (
	"fmt"
	"path/filepath"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
)

// NewPointerStoreFromConfig creates a PointerStore based on the pointer config type.
// File pointers live inside backupRoot.
func NewPointerStoreFromConfig(cfg config.PointerConfig, backupRoot string) (ckpt.PointerStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "file", "":
		if backupRoot == "" {
			return nil, fmt.Errorf("file pointer requires backup_root to be set")
		}
		name := cfg.File
		if name == "" {
			name = ckpt.DefaultPointerFile
		}
		if filepath.Base(name) != name {
			return nil, fmt.Errorf("pointer file must be a bare file name: %q", name)
		}
		return NewFileStore(filepath.Join(backupRoot, name)), nil
	default:
		return nil, fmt.Errorf("unknown pointer type: %s", cfg.Type)
	}
}
