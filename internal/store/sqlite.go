package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle for the context tables, the append-only log,
// the delegation audit and the refresh tracking table.
type DB struct {
	db *sql.DB
}

// OpenDB opens (or creates) the store database. Use ":memory:" for tests.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps in-memory databases coherent and serializes
	// writers at the driver level; per-entity ordering is enforced above via
	// keyed locks.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return d, nil
}

// migration names are recorded so repeated process restarts re-run nothing.
var migrations = []struct {
	name string
	stmt string
}{
	{"001_context_tables", `
	CREATE TABLE IF NOT EXISTS contexts_global (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		owner_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS contexts_project (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		owner_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS contexts_branch (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		owner_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS contexts_task (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		owner_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_project_parent ON contexts_project(parent_id);
	CREATE INDEX IF NOT EXISTS idx_branch_parent ON contexts_branch(parent_id);
	CREATE INDEX IF NOT EXISTS idx_task_parent ON contexts_task(parent_id);
	`},
	{"002_context_log", `
	CREATE TABLE IF NOT EXISTS context_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		context_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		seq INTEGER NOT NULL,
		entry TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(level, context_id, kind, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_log_context ON context_log(level, context_id, kind);
	`},
	{"003_delegations", `
	CREATE TABLE IF NOT EXISTS delegations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_level TEXT NOT NULL,
		from_id TEXT NOT NULL,
		to_level TEXT NOT NULL,
		to_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_delegations_from ON delegations(from_level, from_id);
	`},
	{"004_refresh_runs", `
	CREATE TABLE IF NOT EXISTS refresh_runs (
		name TEXT PRIMARY KEY,
		completed_at INTEGER NOT NULL
	);
	`},
}

func (d *DB) migrate() error {
	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return err
	}
	for _, m := range migrations {
		var n int
		err := d.db.QueryRow("SELECT COUNT(1) FROM schema_migrations WHERE name = ?", m.name).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := d.db.Exec(m.stmt); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := d.db.Exec("INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)",
			m.name, time.Now().Unix()); err != nil {
			return err
		}
	}
	return nil
}

// MarkRefreshRun records that a named background refresh routine completed,
// making repeated runs across restarts idempotent.
func (d *DB) MarkRefreshRun(ctx context.Context, name string) error {
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO refresh_runs (name, completed_at) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET completed_at = excluded.completed_at",
		name, time.Now().Unix())
	return err
}

// RefreshRunAt returns the completion time of a named refresh routine, or
// false if it has never run.
func (d *DB) RefreshRunAt(ctx context.Context, name string) (time.Time, bool, error) {
	var ts int64
	err := d.db.QueryRowContext(ctx, "SELECT completed_at FROM refresh_runs WHERE name = ?", name).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(ts, 0), true, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
