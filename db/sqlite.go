package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when an ID does not exist in the session
var ErrNotFound = errors.New("not found")

// Limits caps the per-session lists. Zero means unlimited.
type Limits struct {
	MaxConversation int
	MaxSavedCode    int
	MaxPlots        int
	MaxUploads      int
}

// DB wraps the SQLite database connection
type DB struct {
	conn   *sql.DB
	limits Limits
}

// New creates a new database connection. ":memory:" keeps everything in
// process memory for the lifetime of the DB.
func New(dbPath string, limits Limits) (*DB, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: an in-memory database lives and dies with it.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn, limits: limits}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Limits returns the caps the store enforces
func (db *DB) Limits() Limits {
	return db.limits
}

// migrate runs database migrations
func (db *DB) migrate() error {
	migrations := []string{
		`PRAGMA foreign_keys = ON`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			page TEXT NOT NULL,
			seed INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			provider TEXT DEFAULT '',
			model TEXT DEFAULT '',
			tokens_used INTEGER DEFAULT 0,
			is_error INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS saved_code (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			name TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS plots (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			source TEXT NOT NULL,
			figure TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS uploads (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			format TEXT NOT NULL,
			row_count INTEGER DEFAULT 0,
			column_count INTEGER DEFAULT 0,
			size_bytes INTEGER DEFAULT 0,
			data BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_saved_code_session ON saved_code(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_plots_session ON plots(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_uploads_session ON uploads(session_id, seq)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

// evictOldest keeps only the newest keep rows of table for a session.
// table and orderCol are package constants, never user input.
func evictOldest(tx *sql.Tx, table, orderCol, sessionID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE session_id = ? AND %[2]s NOT IN (
			SELECT %[2]s FROM %[1]s
			WHERE session_id = ?
			ORDER BY %[2]s DESC
			LIMIT ?
		)`, table, orderCol)

	result, err := tx.Exec(query, sessionID, sessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to evict oldest %s: %w", table, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// deleteByID removes one session-owned row, returning ErrNotFound when absent
func (db *DB) deleteByID(table, sessionID, id string) error {
	result, err := db.conn.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE session_id = ? AND id = ?", table),
		sessionID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

// DBStats represents database statistics
type DBStats struct {
	SessionCount int64 `json:"session_count"`
	MessageCount int64 `json:"message_count"`
	PlotCount    int64 `json:"plot_count"`
	UploadCount  int64 `json:"upload_count"`
	DBSizeBytes  int64 `json:"db_size_bytes"`
}

// GetStats returns database statistics
func (db *DB) GetStats() (*DBStats, error) {
	stats := &DBStats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM sessions", &stats.SessionCount},
		{"SELECT COUNT(*) FROM messages", &stats.MessageCount},
		{"SELECT COUNT(*) FROM plots", &stats.PlotCount},
		{"SELECT COUNT(*) FROM uploads", &stats.UploadCount},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to run %q: %w", c.query, err)
		}
	}

	var pageCount, pageSize int64
	if err := db.conn.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.conn.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page size: %w", err)
	}
	stats.DBSizeBytes = pageCount * pageSize

	return stats, nil
}
