package history

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// migration is one versioned schema change
type migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrationRunner applies pending migrations in version order
type migrationRunner struct {
	db         *sql.DB
	migrations []migration
}

func newMigrationRunner(db *sql.DB) *migrationRunner {
	r := &migrationRunner{
		db: db,
		migrations: []migration{
			migration001Runs(),
			migration002RunDetails(),
		},
	}
	sort.Slice(r.migrations, func(i, j int) bool {
		return r.migrations[i].Version < r.migrations[j].Version
	})
	return r
}

func (r *migrationRunner) ensureMigrationsTable() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (r *migrationRunner) appliedVersions() (map[int]bool, error) {
	rows, err := r.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// Run executes all pending migrations
func (r *migrationRunner) Run() error {
	if err := r.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	applied, err := r.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range r.migrations {
		if applied[m.Version] {
			continue
		}
		if err := r.apply(m); err != nil {
			log.Error("Migration failed", "version", m.Version, "description", m.Description, "error", err)
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (r *migrationRunner) apply(m migration) error {
	log.Debug("Applying migration", "version", m.Version, "description", m.Description)

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return err
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Description, time.Now().UTC(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// CurrentVersion returns the highest applied migration version
func (r *migrationRunner) CurrentVersion() (int, error) {
	if err := r.ensureMigrationsTable(); err != nil {
		return 0, err
	}
	var version int
	err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

func migration001Runs() migration {
	return migration{
		Version:     1,
		Description: "Add runs and run_stages tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE runs (
					id TEXT PRIMARY KEY,
					kernel_version TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					base_dir TEXT NOT NULL DEFAULT '',
					error_message TEXT DEFAULT '',
					error_stage TEXT DEFAULT '',
					exit_code INTEGER DEFAULT 0,
					started_at DATETIME NOT NULL,
					completed_at DATETIME
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE TABLE run_stages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					name TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					detail TEXT DEFAULT '',
					error_message TEXT DEFAULT '',
					started_at DATETIME NOT NULL,
					duration_ms INTEGER DEFAULT 0,
					FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
				)
			`)
			if err != nil {
				return err
			}

			_, err = tx.Exec(`
				CREATE INDEX idx_runs_started_at ON runs(started_at);
				CREATE INDEX idx_run_stages_run_id ON run_stages(run_id);
			`)
			return err
		},
	}
}

func migration002RunDetails() migration {
	return migration{
		Version:     2,
		Description: "Record configuration choice and patch path per run",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				ALTER TABLE runs ADD COLUMN config_choice TEXT NOT NULL DEFAULT '';
				ALTER TABLE runs ADD COLUMN patch_path TEXT NOT NULL DEFAULT '';
			`)
			return err
		},
	}
}
