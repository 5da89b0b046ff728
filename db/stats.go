package db

import (
	"fmt"
	"time"
)

// UsageStats represents chat usage across all sessions
type UsageStats struct {
	TotalTokens   int64                          `json:"total_tokens"`
	TotalMessages int64                          `json:"total_messages"`
	ErrorReplies  int64                          `json:"error_replies"`
	ProviderStats map[string]*ProviderUsageStats `json:"providers"`
	DailyStats    []*DailyUsageStats             `json:"daily"`
}

// ProviderUsageStats represents usage statistics for a provider/model pair
type ProviderUsageStats struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	TotalTokens  int64  `json:"total_tokens"`
	MessageCount int64  `json:"message_count"`
}

// DailyUsageStats represents daily usage statistics
type DailyUsageStats struct {
	Date         time.Time `json:"date"`
	TotalTokens  int64     `json:"total_tokens"`
	MessageCount int64     `json:"message_count"`
}

// GetUsageStats returns assistant-turn usage between two instants
func (db *DB) GetUsageStats(startDate, endDate time.Time) (*UsageStats, error) {
	stats := &UsageStats{
		ProviderStats: make(map[string]*ProviderUsageStats),
	}

	err := db.conn.QueryRow(`
		SELECT
			COALESCE(SUM(tokens_used), 0),
			COUNT(*),
			COALESCE(SUM(is_error), 0)
		FROM messages
		WHERE role = 'assistant' AND created_at >= ? AND created_at <= ?
	`, startDate, endDate).Scan(&stats.TotalTokens, &stats.TotalMessages, &stats.ErrorReplies)
	if err != nil {
		return nil, fmt.Errorf("failed to get total stats: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT provider, model, COALESCE(SUM(tokens_used), 0), COUNT(*)
		FROM messages
		WHERE role = 'assistant' AND is_error = 0 AND created_at >= ? AND created_at <= ?
		GROUP BY provider, model
		ORDER BY 3 DESC
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider stats: %w", err)
	}
	for rows.Next() {
		var ps ProviderUsageStats
		if err := rows.Scan(&ps.Provider, &ps.Model, &ps.TotalTokens, &ps.MessageCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan provider stats: %w", err)
		}
		stats.ProviderStats[ps.Provider+":"+ps.Model] = &ps
	}
	rows.Close()

	rows, err = db.conn.Query(`
		SELECT DATE(created_at), COALESCE(SUM(tokens_used), 0), COUNT(*)
		FROM messages
		WHERE role = 'assistant' AND created_at >= ? AND created_at <= ?
		GROUP BY DATE(created_at)
		ORDER BY 1 ASC
	`, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dateStr string
		var d DailyUsageStats
		if err := rows.Scan(&dateStr, &d.TotalTokens, &d.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		d.Date = date
		stats.DailyStats = append(stats.DailyStats, &d)
	}

	return stats, rows.Err()
}
