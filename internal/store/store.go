// ABOUTME: Core SQLite store for the dinamic deployment engine.
// ABOUTME: Handles database initialization, migrations, and connection management.

package store

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Migration version constants
const (
	MigrationV1 = 1 // Page registry and settings
	MigrationV2 = 2 // Plugin state
	MigrationV3 = 3 // Deployment run history
)

// CurrentSchemaVersion is the target version for the database schema
const CurrentSchemaVersion = MigrationV3

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Deployment is a single writer; a small pool is plenty for the admin API
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending migrations
func (s *Store) migrate() error {
	if err := s.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentMigrationVersion()
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	if currentVersion < CurrentSchemaVersion {
		log.Printf("Database schema version: %d, target version: %d", currentVersion, CurrentSchemaVersion)
	}

	steps := []struct {
		version     int
		description string
		schema      string
	}{
		{MigrationV1, "Create pages and settings tables", schemaV1},
		{MigrationV2, "Create plugins table", schemaV2},
		{MigrationV3, "Create deploy_runs table", schemaV3},
	}

	for _, step := range steps {
		if currentVersion >= step.version {
			continue
		}
		if _, err := s.db.Exec(step.schema); err != nil {
			return fmt.Errorf("migration v%d failed: %w", step.version, err)
		}
		if err := s.recordMigration(step.version, step.description); err != nil {
			return fmt.Errorf("migration v%d failed: %w", step.version, err)
		}
		log.Printf("Applied migration v%d: %s", step.version, step.description)
	}

	return nil
}

const schemaV1 = `
	CREATE TABLE IF NOT EXISTS pages (
		name TEXT PRIMARY KEY,
		menu TEXT NOT NULL DEFAULT '',
		submenu TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		showonmenu INTEGER NOT NULL DEFAULT 1,
		ordernum INTEGER NOT NULL DEFAULT 100
	);

	CREATE TABLE IF NOT EXISTS settings (
		grp TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (grp, key)
	);
`

const schemaV2 = `
	CREATE TABLE IF NOT EXISTS plugins (
		name TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 0,
		ord INTEGER NOT NULL DEFAULT 0,
		post_enable INTEGER NOT NULL DEFAULT 0,
		post_disable INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_plugins_enabled_ord ON plugins(enabled, ord);
`

const schemaV3 = `
	CREATE TABLE IF NOT EXISTS deploy_runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		clean INTEGER NOT NULL DEFAULT 0,
		plugins TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_deploy_runs_started ON deploy_runs(started_at DESC);
`

// createMigrationsTable creates the schema_migrations tracking table
func (s *Store) createMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`)
	return err
}

// getCurrentMigrationVersion retrieves the current schema version
func (s *Store) getCurrentMigrationVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// recordMigration records a completed migration
func (s *Store) recordMigration(version int, description string) error {
	_, err := s.db.Exec(`
		INSERT INTO schema_migrations (version, description)
		VALUES (?, ?)
	`, version, description)
	return err
}
