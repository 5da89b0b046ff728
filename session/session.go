package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"bizdash/analytics"
	"bizdash/assistant"
	"bizdash/chart"
	"bizdash/dashboard"
	"bizdash/dataset"
	"bizdash/db"
	"bizdash/llm"
	"bizdash/utils"
)

// Session is one user's dashboard state. Every exported method holds the
// session lock for its whole duration, so a session handles one request at
// a time.
type Session struct {
	mu     sync.Mutex
	meta   *db.Session
	page   *dashboard.Page
	mgr    *Manager
	logger *utils.Logger

	base     *dataset.Table
	filters  analytics.FilterSpec
	filtered *dataset.Table
	view     *dashboard.View

	files map[string]*fileEntry
	code  CodeState
}

// ID returns the session identifier
func (s *Session) ID() string { return s.meta.ID }

// Info returns the stored session record
func (s *Session) Info() db.Session { return *s.meta }

// Page returns the dashboard the session shows
func (s *Session) Page() *dashboard.Page { return s.page }

// Filters returns the selection the last view was rendered with
func (s *Session) Filters() analytics.FilterSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

func datasetFor(page *dashboard.Page, seed int64, now time.Time) (*dataset.Table, error) {
	t, err := dataset.Generate(page.Dataset, seed, now)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s data: %w", page.Dataset, err)
	}
	return t, nil
}

// Controls lists the page's filter widgets with options from the session data
func (s *Session) Controls() []dashboard.Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		return []dashboard.Control{}
	}
	return s.page.Controls(s.base)
}

// View renders the page for spec and makes it the session's current
// selection. The files page ignores spec.
func (s *Session) View(ctx context.Context, spec analytics.FilterSpec) (*dashboard.View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.render(ctx, spec)
}

func (s *Session) render(ctx context.Context, spec analytics.FilterSpec) (*dashboard.View, error) {
	if s.base == nil {
		files, err := s.loadFiles()
		if err != nil {
			return nil, err
		}
		v := dashboard.FilesView(files)
		s.view = v
		return v, nil
	}

	v, err := s.page.View(ctx, s.base, spec)
	if err != nil {
		return nil, err
	}
	s.filters = spec
	s.filtered = v.Filtered
	s.view = v
	return v, nil
}

// contextBlock summarises the current view for the assistant, rendering it
// first when the session has none yet
func (s *Session) contextBlock(ctx context.Context) (string, error) {
	if s.base == nil {
		files, err := s.loadFiles()
		if err != nil {
			return "", err
		}
		return dashboard.FilesContext(files), nil
	}
	if s.view == nil {
		if _, err := s.render(ctx, s.filters); err != nil {
			return "", err
		}
	}
	return s.view.Context, nil
}

// namespace binds the session data for plotting code: df, df_filtered and
// every upload by file name. A later upload with the same name shadows the
// earlier one.
func (s *Session) namespace() (*assistant.Namespace, error) {
	ns := assistant.NewNamespace()
	if s.base != nil {
		ns.Bind("df", s.base).Bind("df_filtered", s.filtered)
	}
	files, err := s.loadFiles()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		ns.BindFile(f.Name, f.Table)
	}
	return ns, nil
}

// SnippetFailure reports one snippet of a reply that could not be plotted
type SnippetFailure struct {
	Index   int    `json:"index"`
	Snippet string `json:"snippet"`
	Error   string `json:"error"`
}

func failureOf(e *assistant.ExecutionError) SnippetFailure {
	return SnippetFailure{Index: e.Index, Snippet: e.Snippet, Error: e.Err.Error()}
}

// ChatResult is the outcome of one chat turn
type ChatResult struct {
	Reply    string           `json:"reply"`
	Failed   bool             `json:"failed"`
	Provider string           `json:"provider,omitempty"`
	Model    string           `json:"model,omitempty"`
	Attempts int              `json:"attempts"`
	Plots    []*db.Plot       `json:"plots"`
	Errors   []SnippetFailure `json:"errors"`

	Latency time.Duration `json:"-"`
	Err     error         `json:"-"`
}

// Chat sends message with the conversation so far and a summary of the
// current view. Both the question and the reply (or the error text) are
// appended to the conversation. Plots found in a successful reply are built
// and stored; snippets that fail are reported without stopping the others.
// The returned error is only set for invalid input or store failures.
func (s *Session) Chat(ctx context.Context, message string) (*ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, &analytics.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.history()
	if err != nil {
		return nil, err
	}
	block, err := s.contextBlock(ctx)
	if err != nil {
		return nil, err
	}

	reply := s.mgr.bridge.Send(ctx, history, message, block)
	_, err = s.mgr.store.AppendTurns(s.meta.ID,
		db.Turn{Role: llm.RoleUser, Content: message},
		db.Turn{
			Role:       llm.RoleAssistant,
			Content:    reply.Text,
			Provider:   reply.Provider,
			Model:      reply.Model,
			TokensUsed: reply.TokensUsed,
			IsError:    reply.Err != nil,
		},
	)
	if err != nil {
		return nil, err
	}

	result := &ChatResult{
		Reply:    reply.Text,
		Failed:   reply.Err != nil,
		Provider: reply.Provider,
		Model:    reply.Model,
		Attempts: reply.Attempts,
		Plots:    []*db.Plot{},
		Errors:   []SnippetFailure{},
		Latency:  reply.Latency,
		Err:      reply.Err,
	}
	if reply.Err != nil {
		s.logger.Warn("Chat failed after %d attempt(s): %v", reply.Attempts, reply.Err)
		return result, nil
	}

	ns, err := s.namespace()
	if err != nil {
		return nil, err
	}
	outcome := s.mgr.interp.ProcessReply(reply.Text, ns)
	for _, p := range outcome.Plots {
		stored, err := s.addPlot(db.OriginAssistant, p.Source, p.Figure)
		if err != nil {
			return nil, err
		}
		result.Plots = append(result.Plots, stored)
	}
	for _, e := range outcome.Errors {
		s.logger.Debug("Snippet %d of reply failed: %v", e.Index+1, e.Err)
		result.Errors = append(result.Errors, failureOf(e))
	}
	return result, nil
}

func (s *Session) history() ([]llm.Message, error) {
	stored, err := s.mgr.store.ListMessages(s.meta.ID)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// Conversation returns the session's turns, oldest first
func (s *Session) Conversation() ([]*db.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr.store.ListMessages(s.meta.ID)
}

func (s *Session) addPlot(origin, source string, fig *chart.Figure) (*db.Plot, error) {
	data, err := json.Marshal(fig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode figure: %w", err)
	}
	return s.mgr.store.AddPlot(s.meta.ID, origin, source, data)
}

// Plots lists the generated plots, newest first
func (s *Session) Plots() ([]*db.Plot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr.store.ListPlots(s.meta.ID)
}

// RemovePlot deletes a plot by ID
func (s *Session) RemovePlot(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mgr.store.DeletePlot(s.meta.ID, id)
}

// BuildChart builds a chart from a declarative spec. The spec's dataset may
// name an upload by ID or file name, or df and df_filtered; by default the
// filtered rows are used. filters, when given, are applied to that table
// first.
func (s *Session) BuildChart(spec chart.Spec, filters *analytics.FilterSpec) (*chart.Figure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec.Inline != nil {
		return chart.Build(nil, spec)
	}
	t, err := s.resolveTable(spec)
	if err != nil {
		return nil, err
	}
	if filters != nil {
		if t, err = analytics.Apply(t, *filters); err != nil {
			return nil, err
		}
	}
	return chart.Build(t, spec)
}

func (s *Session) resolveTable(spec chart.Spec) (*dataset.Table, error) {
	ns, err := s.namespace()
	if err != nil {
		return nil, err
	}
	if spec.Dataset == "" {
		t, ok := ns.Default()
		if !ok {
			return nil, &chart.ConfigurationError{Kind: spec.Kind, Field: "dataset", Reason: "no dataset to plot"}
		}
		return t, nil
	}
	if e, ok := s.files[spec.Dataset]; ok {
		return e.table, nil
	}
	if t, ok := ns.Lookup(spec.Dataset); ok {
		return t, nil
	}
	return nil, &chart.ConfigurationError{Kind: spec.Kind, Field: "dataset", Reason: fmt.Sprintf("unknown dataset %q", spec.Dataset)}
}

// Export renders the conversation, saved code and plots of the session
func (s *Session) Export(format utils.ExportFormat) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return utils.ExportSession(s.mgr.store, s.meta.ID, format)
}
