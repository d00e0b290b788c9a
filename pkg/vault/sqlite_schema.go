package vault

import (
	"database/sql"
	"errors"
	"fmt"
)

// Schema version constants
const (
	// SchemaVersion1 is the entries/meta schema
	SchemaVersion1 = 1
	// CurrentSchemaVersion is the current schema version
	CurrentSchemaVersion = SchemaVersion1
)

// ErrSchemaTooNew is returned when the vault file was written by a newer release.
var ErrSchemaTooNew = errors.New("vault: database schema is newer than this release supports")

// getSchemaVersion returns the schema version recorded in the database, or 0
// for a database that has never been initialized.
func getSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vault: failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("vault: failed to get schema version: %w", err)
	}
	return version, nil
}

// setSchemaVersion records version in the database.
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("vault: failed to create schema_version table: %w", err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("vault: failed to set schema version: %w", err)
	}
	return nil
}

// migrateSchema brings the database to CurrentSchemaVersion. Each step runs
// in its own transaction together with the version bump.
func migrateSchema(db *sql.DB) error {
	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, version, CurrentSchemaVersion)
	}

	if version < SchemaVersion1 {
		if err := migrateStep(db, SchemaVersion1, migrateToV1); err != nil {
			return err
		}
	}
	return nil
}

func migrateStep(db *sql.DB, version int, step func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("vault: failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	if err := step(tx); err != nil {
		return fmt.Errorf("vault: migration to v%d failed: %w", version, err)
	}
	if err := setSchemaVersion(tx, version); err != nil {
		return err
	}
	return tx.Commit()
}

// migrateToV1 creates the record table and the meta table that holds the
// sealing salt and check value.
func migrateToV1(tx *sql.Tx) error {
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	name  TEXT PRIMARY KEY,
	value BLOB NOT NULL
);`
	_, err := tx.Exec(schema)
	return err
}
