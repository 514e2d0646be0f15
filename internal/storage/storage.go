// Package storage opens the shared SQLite handle every durable
// component stores through and records a schema version in a
// schema_version table (spec.md §4.12), mirroring internal/memory/db.go's
// NewMemoryDB: ensure the data directory exists, then open with WAL + a
// busy timeout. It runs no migrations: each component's Init creates its
// own tables, and InitAll calls those Inits in the order given.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is the version number written to schema_version when
// that table is first created; Open does not run any Init or migration.
const schemaVersion = 1

// DB wraps the shared handle plus the version-gate table.
type DB struct {
	*sql.DB
}

// Open creates (if needed) the data directory, opens path with the
// connection settings internal/memory/db.go uses (WAL, busy timeout,
// foreign keys on), and ensures the schema_version table exists.
// path may be ":memory:" for tests.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	db := &DB{DB: sqlDB}
	if err := db.ensureVersionTable(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) ensureVersionTable() error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err = db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
	}
	return err
}

// Initializer is implemented by each package's Store/Log (tasks.Store,
// eventlog.Log, context.Store): idempotent DDL, safe to call every
// startup.
type Initializer interface {
	Init() error
}

// InitAll runs every component's Init against the shared handle, in
// the order the Orchestrator's composition root constructs them —
// stores with foreign-key-like references (task history, event log
// entries referencing tasks) should be passed after the stores they
// reference.
func InitAll(stores ...Initializer) error {
	for _, s := range stores {
		if err := s.Init(); err != nil {
			return err
		}
	}
	return nil
}
