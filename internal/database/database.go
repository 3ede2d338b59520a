// Package database opens the SQLite handle shared by every Penny store.
// Stores own their own schema and run CREATE TABLE IF NOT EXISTS
// migrations from their constructors.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // CGO driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go driver, registered as "sqlite"
)

// Supported driver names.
const (
	DriverCGO    = "sqlite3"
	DriverPureGo = "sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens path with the named driver, enables foreign keys and a
// busy timeout, and verifies the connection. The parent directory is
// created when missing.
func Open(driver, path string) (*sql.DB, error) {
	dsn, err := dsnFor(driver, path)
	if err != nil {
		return nil, err
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == MemoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func dsnFor(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		if path == MemoryPath {
			return "file::memory:?_foreign_keys=1", nil
		}
		return "file:" + path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverPureGo:
		if path == MemoryPath {
			return "file::memory:?_pragma=foreign_keys(1)", nil
		}
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
