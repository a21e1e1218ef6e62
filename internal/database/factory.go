package database

import (
	"fmt"
	"os"
	"path/filepath"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
)

// NewCatalogFromConfig creates a Catalog implementation based on the database config type.
func NewCatalogFromConfig(cfg config.DatabaseConfig, hostID string) (ckpt.Catalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if hostID == "" {
			return nil, fmt.Errorf("host_id required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return openCatalog(filepath.Join(cfg.DataDir, hostID+".db"))
	case "memory":
		return openCatalog(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// openCatalog keeps a failed open from becoming a non-nil interface.
func openCatalog(path string) (ckpt.Catalog, error) {
	c, err := NewSQLiteCatalog(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}
