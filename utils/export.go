package utils

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bizdash/db"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON     ExportFormat = "json"
	FormatMarkdown ExportFormat = "markdown"
)

// ParseExportFormat accepts "json", "markdown" or "md"; empty means JSON
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// SessionExport represents a session export structure
type SessionExport struct {
	Session   *db.Session       `json:"session"`
	Messages  []*db.Message     `json:"messages"`
	SavedCode []*db.SavedCode   `json:"saved_code"`
	Plots     []*db.Plot        `json:"plots"`
	Uploads   []*db.Upload      `json:"uploads"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CollectSession reads everything a session owns from the store
func CollectSession(database *db.DB, sessionID string) (*SessionExport, error) {
	sess, err := database.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	export := &SessionExport{
		Session: sess,
		Metadata: map[string]string{
			"export_version": "1.0",
			"export_date":    time.Now().Format(time.RFC3339),
			"app_name":       "bizdash",
		},
	}
	if export.Messages, err = database.ListMessages(sessionID); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if export.SavedCode, err = database.ListSavedCode(sessionID); err != nil {
		return nil, fmt.Errorf("failed to get saved code: %w", err)
	}
	if export.Plots, err = database.ListPlots(sessionID); err != nil {
		return nil, fmt.Errorf("failed to get plots: %w", err)
	}
	if export.Uploads, err = database.ListUploads(sessionID); err != nil {
		return nil, fmt.Errorf("failed to get uploads: %w", err)
	}
	return export, nil
}

// ExportSession renders a session in the requested format
func ExportSession(database *db.DB, sessionID string, format ExportFormat) ([]byte, error) {
	export, err := CollectSession(database, sessionID)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(export, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return data, nil
	case FormatMarkdown:
		return []byte(export.Markdown()), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// Markdown renders the export as a readable document
func (e *SessionExport) Markdown() string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Session %s\n\n", e.Session.ID))
	sb.WriteString(fmt.Sprintf("**Page**: %s\n\n", e.Session.Page))
	sb.WriteString(fmt.Sprintf("**Created**: %s\n", e.Session.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("**Updated**: %s\n\n", e.Session.UpdatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString("---\n\n")

	sb.WriteString("## Conversation\n\n")
	if len(e.Messages) == 0 {
		sb.WriteString("_No messages._\n\n")
	}
	for i, msg := range e.Messages {
		roleName := "User"
		switch msg.Role {
		case "assistant":
			roleName = "Assistant"
		case "system":
			roleName = "System"
		}
		if msg.IsError {
			roleName += " (error)"
		}
		sb.WriteString(fmt.Sprintf("### %s\n\n", roleName))

		if msg.Provider != "" || msg.Model != "" {
			sb.WriteString(fmt.Sprintf("*%s - %s*\n\n", msg.Provider, msg.Model))
		}

		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")

		if i < len(e.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if len(e.SavedCode) > 0 {
		sb.WriteString("## Saved code\n\n")
		for _, item := range e.SavedCode {
			sb.WriteString(fmt.Sprintf("### %s\n\n", item.Name))
			sb.WriteString(fmt.Sprintf("```python\n%s\n```\n\n", item.Source))
		}
	}

	if len(e.Plots) > 0 {
		sb.WriteString("## Plots\n\n")
		for _, p := range e.Plots {
			sb.WriteString(fmt.Sprintf("- %s (%s, %s)\n", p.ID, p.Origin, p.CreatedAt.Format("2006-01-02 15:04:05")))
		}
		sb.WriteString("\n")
	}

	if len(e.Uploads) > 0 {
		sb.WriteString("## Files\n\n")
		for _, u := range e.Uploads {
			sb.WriteString(fmt.Sprintf("- %s: %d rows, %d columns, %s\n", u.Filename, u.RowCount, u.ColumnCount, FormatFileSize(u.SizeBytes)))
		}
		sb.WriteString("\n")
	}

	// Footer
	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported: %s*\n", e.Metadata["export_date"]))
	return sb.String()
}

// GenerateExportFilename generates a filename for export
func GenerateExportFilename(title string, format ExportFormat) string {
	// Sanitize title for filename
	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			return '_'
		}
		return r
	}, title)

	// Truncate if too long
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}

	// Add timestamp and extension
	timestamp := time.Now().Format("20060102_150405")
	ext := string(format)
	if format == FormatMarkdown {
		ext = "md"
	}

	return fmt.Sprintf("%s_%s.%s", sanitized, timestamp, ext)
}
