// Package history keeps a SQLite record of build runs and the outcome of
// every stage, so an operator can look back at what was built and where a
// failed run stopped.
package history

import (
	"database/sql"
	"fmt"

	"github.com/bitswalk/lkb/src/common/logs"
	"github.com/bitswalk/lkb/src/common/paths"
	_ "github.com/mattn/go-sqlite3"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the history package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Config holds the history database configuration
type Config struct {
	// Path is the database file; empty keeps history in memory for the process lifetime
	Path string `mapstructure:"path"`
}

// DefaultConfig returns the default history configuration
func DefaultConfig() Config {
	return Config{
		Path: "~/.local/state/lkb/history.db",
	}
}

// Database wraps the SQLite connection holding build history
type Database struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database and applies pending migrations
func Open(cfg Config) (*Database, error) {
	dsn := ":memory:"
	path := ""
	if cfg.Path != "" {
		path = paths.Expand(cfg.Path)
		if err := paths.EnsureDir(path); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = "file:" + path + "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := newMigrationRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	d := &Database{db: db}
	version, err := d.SchemaVersion()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read history schema version: %w", err)
	}
	log.Debug("History database opened", "path", path, "schema_version", version)

	return d, nil
}

// DB returns the underlying connection
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database
func (d *Database) Close() error {
	return d.db.Close()
}

// SchemaVersion returns the highest applied migration version
func (d *Database) SchemaVersion() (int, error) {
	return newMigrationRunner(d.db).CurrentVersion()
}
