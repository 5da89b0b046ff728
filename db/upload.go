package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddUpload registers an uploaded file under a new ID together with its
// encoded table. Registering the same filename twice keeps both entries.
// It returns the IDs evicted to respect the uploads cap.
func (db *DB) AddUpload(u *Upload, data []byte) (*Upload, []string, error) {
	entry := *u
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO uploads (id, session_id, filename, format, row_count, column_count, size_bytes, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Filename, entry.Format, entry.RowCount, entry.ColumnCount, entry.SizeBytes, data, entry.CreatedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add upload: %w", err)
	}

	var evicted []string
	if keep := db.limits.MaxUploads; keep > 0 {
		rows, err := tx.Query(
			"SELECT id FROM uploads WHERE session_id = ? ORDER BY seq DESC LIMIT -1 OFFSET ?",
			entry.SessionID, keep,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to find evicted uploads: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("failed to scan upload id: %w", err)
			}
			evicted = append(evicted, id)
		}
		rows.Close()

		if _, err := evictOldest(tx, "uploads", "seq", entry.SessionID, keep); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit upload: %w", err)
	}

	return &entry, evicted, nil
}

const uploadColumns = "id, session_id, filename, format, row_count, column_count, size_bytes, created_at"

func scanUpload(row interface{ Scan(...any) error }, u *Upload) error {
	return row.Scan(&u.ID, &u.SessionID, &u.Filename, &u.Format, &u.RowCount, &u.ColumnCount, &u.SizeBytes, &u.CreatedAt)
}

// ListUploads returns a session's upload registry in upload order
func (db *DB) ListUploads(sessionID string) ([]*Upload, error) {
	rows, err := db.conn.Query(
		"SELECT "+uploadColumns+" FROM uploads WHERE session_id = ? ORDER BY seq ASC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		var u Upload
		if err := scanUpload(rows, &u); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		uploads = append(uploads, &u)
	}

	return uploads, rows.Err()
}

// GetUploadData returns the registry entry and encoded table of one upload
func (db *DB) GetUploadData(sessionID, id string) (*Upload, []byte, error) {
	var u Upload
	var data []byte
	err := db.conn.QueryRow(
		"SELECT "+uploadColumns+", data FROM uploads WHERE session_id = ? AND id = ?",
		sessionID, id,
	).Scan(&u.ID, &u.SessionID, &u.Filename, &u.Format, &u.RowCount, &u.ColumnCount, &u.SizeBytes, &u.CreatedAt, &data)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get upload: %w", err)
	}

	return &u, data, nil
}

// DeleteUpload removes an upload by ID
func (db *DB) DeleteUpload(sessionID, id string) error {
	return db.deleteByID("uploads", sessionID, id)
}
