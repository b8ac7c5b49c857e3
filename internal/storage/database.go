package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// New opens a SQLite database connection at the given path.
// It enables foreign keys and sets connection pool settings.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys (disabled by default in SQLite)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			date DATETIME NOT NULL,
			amount REAL NOT NULL,
			direction TEXT NOT NULL DEFAULT '',
			vendor TEXT NOT NULL DEFAULT '',
			category_id TEXT,
			currency TEXT NOT NULL DEFAULT 'USD',
			note TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			document_id TEXT NOT NULL DEFAULT '',
			FOREIGN KEY (category_id) REFERENCES categories(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_vendor ON transactions(vendor);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(category_id);`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
