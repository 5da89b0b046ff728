package db

import (
	"fmt"
	"time"
)

// Turn is one conversation entry to be appended
type Turn struct {
	Role       string
	Content    string
	Provider   string
	Model      string
	TokensUsed int
	IsError    bool
}

// AppendTurns appends turns to a session's conversation in one transaction,
// then evicts the oldest turns beyond the conversation cap.
func (db *DB) AppendTurns(sessionID string, turns ...Turn) ([]*Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	messages := make([]*Message, 0, len(turns))
	for _, t := range turns {
		now := time.Now()
		result, err := tx.Exec(
			"INSERT INTO messages (session_id, role, content, provider, model, tokens_used, is_error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			sessionID, t.Role, t.Content, t.Provider, t.Model, t.TokensUsed, t.IsError, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create message: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get message ID: %w", err)
		}

		messages = append(messages, &Message{
			ID:         id,
			SessionID:  sessionID,
			Role:       t.Role,
			Content:    t.Content,
			Provider:   t.Provider,
			Model:      t.Model,
			TokensUsed: t.TokensUsed,
			IsError:    t.IsError,
			CreatedAt:  now,
		})
	}

	if _, err := evictOldest(tx, "messages", "id", sessionID, db.limits.MaxConversation); err != nil {
		return nil, err
	}

	if _, err := tx.Exec("UPDATE sessions SET updated_at = ? WHERE id = ?", time.Now(), sessionID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit messages: %w", err)
	}

	return messages, nil
}

// ListMessages retrieves a session's conversation, oldest first
func (db *DB) ListMessages(sessionID string) ([]*Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, session_id, role, content, provider, model, tokens_used, is_error, created_at FROM messages WHERE session_id = ? ORDER BY id ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Provider, &msg.Model, &msg.TokensUsed, &msg.IsError, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// CountMessages returns the number of turns in a session's conversation
func (db *DB) CountMessages(sessionID string) (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
