package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Migrate runs database migrations
func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS file (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			backend_name TEXT NOT NULL,
			key TEXT NOT NULL,
			pending_auto_match INTEGER NOT NULL DEFAULT 0,
			unavailable_since INTEGER,
			edition_name TEXT,
			size_bytes INTEGER,
			scanned_at INTEGER NOT NULL,
			UNIQUE(backend_name, key)
		)`,

		`CREATE TABLE IF NOT EXISTS media (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			poster_url TEXT,
			background_url TEXT,
			thumbnail_url TEXT,
			parent_id INTEGER,
			media_type TEXT NOT NULL,
			tmdb_parent_id INTEGER NOT NULL,
			tmdb_item_id INTEGER NOT NULL,
			imdb_parent_id TEXT,
			rating REAL,
			start_date INTEGER,
			end_date INTEGER,
			runtime_minutes INTEGER,
			season_number INTEGER,
			episode_number INTEGER,
			UNIQUE(tmdb_parent_id, tmdb_item_id),
			FOREIGN KEY (parent_id) REFERENCES media(id)
		)`,

		`CREATE TABLE IF NOT EXISTS media_connection (
			media_id INTEGER NOT NULL,
			file_id INTEGER NOT NULL,
			PRIMARY KEY (media_id, file_id),
			FOREIGN KEY (media_id) REFERENCES media(id),
			FOREIGN KEY (file_id) REFERENCES file(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_file_pending ON file(pending_auto_match, id)`,
		`CREATE INDEX IF NOT EXISTS idx_file_backend_scanned ON file(backend_name, scanned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_media_parent ON media(parent_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	return nil
}
