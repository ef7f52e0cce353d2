package database

import (
	"fmt"
	"os"
	"path/filepath"

	"scribe-go/internal/config"
	"scribe-go/internal/scribe"
)

// NewDatabaseFromConfig opens the version index described by cfg. A SQLite
// index lives at <data_dir>/<hostID>.db and must be migrated by the caller;
// an in-memory index is migrated on creation.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, hostID string, clock scribe.Clock) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, hostID+".db"), clock)
	case "memory":
		db, err := NewSQLiteDatabase(":memory:", clock)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
