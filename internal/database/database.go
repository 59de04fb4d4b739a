// Package database owns the local SQLite store used for reconciliation
// drafts. The ERP's own data stays in its DBF tables; this database only
// holds this tool's working state.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

// New opens (or creates) the local database at the given path and
// initializes the schema. Use ":memory:" for an ephemeral database.
func New(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		dbDir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reconciliation_drafts (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		account_code TEXT NOT NULL,
		statement_batch TEXT NOT NULL,
		match_groups_json TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'draft',
		created_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		committed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_drafts_account ON reconciliation_drafts(company_id, account_code, status);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}
