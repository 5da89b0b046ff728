package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddPlot stores a generated figure and evicts the oldest plots beyond the cap
func (db *DB) AddPlot(sessionID, origin, source string, figure []byte) (*Plot, error) {
	plot := &Plot{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Origin:    origin,
		Source:    source,
		Figure:    figure,
		CreatedAt: time.Now(),
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO plots (id, session_id, origin, source, figure, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		plot.ID, sessionID, origin, source, string(figure), plot.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add plot: %w", err)
	}

	if _, err := evictOldest(tx, "plots", "seq", sessionID, db.limits.MaxPlots); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plot: %w", err)
	}

	return plot, nil
}

// ListPlots returns a session's plots, newest first
func (db *DB) ListPlots(sessionID string) ([]*Plot, error) {
	rows, err := db.conn.Query(
		"SELECT id, session_id, origin, source, figure, created_at FROM plots WHERE session_id = ? ORDER BY seq DESC",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plots: %w", err)
	}
	defer rows.Close()

	var plots []*Plot
	for rows.Next() {
		var p Plot
		var figure string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Origin, &p.Source, &figure, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plot: %w", err)
		}
		p.Figure = []byte(figure)
		plots = append(plots, &p)
	}

	return plots, rows.Err()
}

// DeletePlot removes a plot by ID
func (db *DB) DeletePlot(sessionID, id string) error {
	return db.deleteByID("plots", sessionID, id)
}
