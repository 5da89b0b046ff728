package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveCode stores a snippet under a new stable ID and evicts the oldest
// items beyond the saved-code cap
func (db *DB) SaveCode(sessionID, name, source string) (*SavedCode, error) {
	item := &SavedCode{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      name,
		Source:    source,
		CreatedAt: time.Now(),
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO saved_code (id, session_id, name, source, created_at) VALUES (?, ?, ?, ?, ?)",
		item.ID, sessionID, name, source, item.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save code: %w", err)
	}

	if _, err := evictOldest(tx, "saved_code", "seq", sessionID, db.limits.MaxSavedCode); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit saved code: %w", err)
	}

	return item, nil
}

// ListSavedCode returns a session's saved snippets in creation order
func (db *DB) ListSavedCode(sessionID string) ([]*SavedCode, error) {
	rows, err := db.conn.Query(
		"SELECT id, session_id, name, source, created_at FROM saved_code WHERE session_id = ? ORDER BY seq ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved code: %w", err)
	}
	defer rows.Close()

	var items []*SavedCode
	for rows.Next() {
		var item SavedCode
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Name, &item.Source, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved code: %w", err)
		}
		items = append(items, &item)
	}

	return items, rows.Err()
}

// GetSavedCode retrieves one saved snippet
func (db *DB) GetSavedCode(sessionID, id string) (*SavedCode, error) {
	var item SavedCode
	err := db.conn.QueryRow(
		"SELECT id, session_id, name, source, created_at FROM saved_code WHERE session_id = ? AND id = ?",
		sessionID, id,
	).Scan(&item.ID, &item.SessionID, &item.Name, &item.Source, &item.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saved code %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved code: %w", err)
	}

	return &item, nil
}

// DeleteSavedCode removes a saved snippet by ID
func (db *DB) DeleteSavedCode(sessionID, id string) error {
	return db.deleteByID("saved_code", sessionID, id)
}
