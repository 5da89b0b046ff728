package session

import (
	"errors"
	"fmt"
	"strings"

	"bizdash/analytics"
	"bizdash/db"
)

// CodeState is the position of the add-code flow
type CodeState int

const (
	// CodeIdle: no draft is open
	CodeIdle CodeState = iota
	// CodeAwaitingInput: a draft is open and waits for source
	CodeAwaitingInput
)

func (c CodeState) String() string {
	if c == CodeAwaitingInput {
		return "awaiting_input"
	}
	return "idle"
}

// MarshalText renders the state by name
func (c CodeState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ErrInvalidTransition is returned when an add-code step does not follow
// from the current state
var ErrInvalidTransition = errors.New("invalid add-code transition")

// CodeResult is a submitted snippet that ran and was saved
type CodeResult struct {
	Saved *db.SavedCode `json:"saved"`
	Plot  *db.Plot      `json:"plot,omitempty"`
}

// CodeState reports where the add-code flow is
func (s *Session) CodeState() CodeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// BeginCode opens a draft
func (s *Session) BeginCode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code != CodeIdle {
		return fmt.Errorf("%w: begin while %s", ErrInvalidTransition, s.code)
	}
	s.code = CodeAwaitingInput
	return nil
}

// CancelCode discards the open draft
func (s *Session) CancelCode() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code != CodeAwaitingInput {
		return fmt.Errorf("%w: cancel while %s", ErrInvalidTransition, s.code)
	}
	s.code = CodeIdle
	return nil
}

// SubmitCode interprets source against the session data. On success the
// snippet is saved, its figure (if any) stored as a plot and the flow
// returns to idle. On failure the draft stays open and the error is
// returned. An empty name becomes "Code HH:MM".
func (s *Session) SubmitCode(name, source string) (*CodeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code != CodeAwaitingInput {
		return nil, fmt.Errorf("%w: submit while %s", ErrInvalidTransition, s.code)
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, &analytics.ValidationError{Field: "source", Reason: "must not be empty"}
	}

	ns, err := s.namespace()
	if err != nil {
		return nil, err
	}
	fig, err := s.mgr.interp.Interpret(source, ns)
	if err != nil {
		s.logger.Debug("Submitted code failed: %v", err)
		return nil, err
	}

	if strings.TrimSpace(name) == "" {
		name = "Code " + s.mgr.now().Format("15:04")
	}
	saved, err := s.mgr.store.SaveCode(s.meta.ID, name, source)
	if err != nil {
		return nil, err
	}
	result := &CodeResult{Saved: saved}
	if fig != nil {
		if result.Plot, err = s.addPlot(db.OriginManual, source, fig); err != nil {
			return nil, err
		}
	}
	s.code = CodeIdle
	return result, nil
}

// SavedCode lists the saved snippets in creation order
func (s *Session) SavedCode() ([]*db.SavedCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr.store.ListSavedCode(s.meta.ID)
}

// RemoveCode deletes a saved snippet by ID
func (s *Session) RemoveCode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr.store.DeleteSavedCode(s.meta.ID, id)
}

// RunSaved runs a saved snippet against the current data and stores the
// figure it builds. It returns a nil plot when the snippet builds none.
func (s *Session) RunSaved(id string) (*db.Plot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.mgr.store.GetSavedCode(s.meta.ID, id)
	if err != nil {
		return nil, err
	}
	ns, err := s.namespace()
	if err != nil {
		return nil, err
	}
	fig, err := s.mgr.interp.Interpret(item.Source, ns)
	if err != nil {
		return nil, err
	}
	if fig == nil {
		return nil, nil
	}
	return s.addPlot(db.OriginManual, item.Source, fig)
}
