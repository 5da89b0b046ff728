package db

import (
	"encoding/json"
	"time"
)

// Session represents one dashboard session
type Session struct {
	ID        string    `json:"id"`
	Page      string    `json:"page"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single conversation turn
type Message struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"` // "user" or "assistant"
	Content    string    `json:"content"`
	Provider   string    `json:"provider,omitempty"`
	Model      string    `json:"model,omitempty"`
	TokensUsed int       `json:"tokens_used,omitempty"`
	IsError    bool      `json:"is_error,omitempty"` // assistant turn carrying a service error
	CreatedAt  time.Time `json:"created_at"`
}

// SavedCode is a plotting snippet the user kept
type SavedCode struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Plot origins
const (
	OriginAssistant = "assistant"
	OriginManual    = "manual"
)

// Plot is a chart produced from a snippet, kept as figure JSON
type Plot struct {
	ID        string          `json:"id"`
	SessionID string          `json:"-"`
	Origin    string          `json:"origin"`
	Source    string          `json:"source"`
	Figure    json.RawMessage `json:"figure"`
	CreatedAt time.Time       `json:"created_at"`
}

// Upload is the registry entry of an uploaded file. The filename is
// metadata only; uploads are addressed by ID.
type Upload struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"-"`
	Filename    string    `json:"filename"`
	Format      string    `json:"format"`
	RowCount    int       `json:"rows"`
	ColumnCount int       `json:"columns"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}
