package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"bizdash/analytics"
	"bizdash/dashboard"
	"bizdash/dataset"
	"bizdash/db"
	"bizdash/utils"
)

// fileEntry caches the decoded table of an upload
type fileEntry struct {
	upload *db.Upload
	table  *dataset.Table
}

// Upload is a registered file together with its files-page summary
type Upload struct {
	*db.Upload
	Summary dashboard.FileSummary `json:"summary"`
	Evicted []string              `json:"evicted,omitempty"`
}

// Upload parses a file and registers it under a new ID. Uploading the same
// file name again adds a second entry. The oldest uploads beyond the cap
// are dropped.
func (s *Session) Upload(filename string, r io.Reader) (*Upload, error) {
	format, err := dataset.FormatOf(filename)
	if err != nil {
		return nil, err
	}

	limit := s.mgr.data.MaxUploadBytes
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, &analytics.ValidationError{Field: "file", Reason: "larger than " + utils.FormatFileSize(limit)}
	}

	table, err := dataset.Load(filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", filename, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, evicted, err := s.mgr.store.AddUpload(&db.Upload{
		SessionID:   s.meta.ID,
		Filename:    filename,
		Format:      format,
		RowCount:    table.Len(),
		ColumnCount: len(table.Columns()),
		SizeBytes:   int64(len(data)),
	}, encoded)
	if err != nil {
		return nil, err
	}
	for _, id := range evicted {
		delete(s.files, id)
	}
	s.files[entry.ID] = &fileEntry{upload: entry, table: table}
	s.view = nil

	s.logger.Info("Uploaded %s (%s, %d rows)", filename, utils.FormatFileSize(entry.SizeBytes), table.Len())
	return &Upload{
		Upload:  entry,
		Summary: dashboard.Summarize(dashboard.File{ID: entry.ID, Name: filename, Table: table}),
		Evicted: evicted,
	}, nil
}

// Files returns every upload of the session in upload order
func (s *Session) Files() ([]dashboard.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFiles()
}

// RemoveFile drops an upload by ID
func (s *Session) RemoveFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mgr.store.DeleteUpload(s.meta.ID, id); err != nil {
		return err
	}
	delete(s.files, id)
	s.view = nil
	return nil
}

// loadFiles lists the registry and decodes the tables not cached yet
func (s *Session) loadFiles() ([]dashboard.File, error) {
	uploads, err := s.mgr.store.ListUploads(s.meta.ID)
	if err != nil {
		return nil, err
	}
	out := make([]dashboard.File, 0, len(uploads))
	for _, u := range uploads {
		e, ok := s.files[u.ID]
		if !ok {
			_, data, err := s.mgr.store.GetUploadData(s.meta.ID, u.ID)
			if err != nil {
				return nil, err
			}
			t := &dataset.Table{}
			if err := json.Unmarshal(data, t); err != nil {
				return nil, fmt.Errorf("failed to decode upload %s: %w", u.Filename, err)
			}
			e = &fileEntry{upload: u, table: t}
			s.files[u.ID] = e
		}
		out = append(out, dashboard.File{ID: u.ID, Name: u.Filename, Table: e.table})
	}
	return out, nil
}
