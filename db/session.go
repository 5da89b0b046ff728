package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession creates a new session for a dashboard page
func (db *DB) CreateSession(page string, seed int64) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Page:      page,
		Seed:      seed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := db.conn.Exec(
		"INSERT INTO sessions (id, page, seed, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		s.ID, s.Page, s.Seed, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return s, nil
}

// GetSession retrieves a session by ID
func (db *DB) GetSession(id string) (*Session, error) {
	var s Session
	err := db.conn.QueryRow(
		"SELECT id, page, seed, created_at, updated_at FROM sessions WHERE id = ?",
		id,
	).Scan(&s.ID, &s.Page, &s.Seed, &s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &s, nil
}

// ListSessions retrieves all sessions, most recently used first
func (db *DB) ListSessions() ([]*Session, error) {
	rows, err := db.conn.Query(
		"SELECT id, page, seed, created_at, updated_at FROM sessions ORDER BY updated_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Page, &s.Seed, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &s)
	}

	return sessions, rows.Err()
}

// DeleteSession deletes a session and everything it owns
func (db *DB) DeleteSession(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"messages", "saved_code", "plots", "uploads"} {
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	result, err := tx.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	return tx.Commit()
}

// TouchSession updates the session's updated_at timestamp
func (db *DB) TouchSession(id string) error {
	_, err := db.conn.Exec(
		"UPDATE sessions SET updated_at = ? WHERE id = ?",
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}
