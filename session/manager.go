// Package session holds the per-session state behind the dashboards: an
// isolated dataset, the current filter selection, the add-code flow and the
// uploads registry. Conversation turns, saved code, plots and uploads are
// persisted through the db package.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"bizdash/assistant"
	"bizdash/dashboard"
	"bizdash/db"
	"bizdash/utils"
)

// DefaultSeed is used when a session is created without a seed
const DefaultSeed int64 = 42

// Manager owns every live session. Each session serialises its own
// requests; the manager lock only guards the map.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	defaultMu sync.Mutex
	defaultID string

	store  *db.DB
	bridge *assistant.Bridge
	interp assistant.Interpreter
	data   utils.DataConfig
	logger *utils.Logger
	now    func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now, used for dataset generation and code names
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithInterpreter overrides the snippet interpreter limits
func WithInterpreter(it assistant.Interpreter) Option {
	return func(m *Manager) { m.interp = it }
}

// NewManager creates a session manager on top of store
func NewManager(store *db.DB, bridge *assistant.Bridge, data utils.DataConfig, logger *utils.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if bridge == nil {
		bridge = assistant.NewBridge(nil, utils.ChatConfig{}, utils.PrivacyConfig{}, logger)
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		bridge:   bridge,
		data:     data,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.interp.Logger == nil {
		m.interp.Logger = logger
	}
	return m
}

// Bridge returns the chat bridge sessions talk through
func (m *Manager) Bridge() *assistant.Bridge { return m.bridge }

// Store returns the underlying session store
func (m *Manager) Store() *db.DB { return m.store }

// Create starts a session on a dashboard page. A zero seed means DefaultSeed.
func (m *Manager) Create(pageID string, seed int64) (*Session, error) {
	page, err := dashboard.Lookup(pageID)
	if err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = DefaultSeed
	}

	meta, err := m.store.CreateSession(page.ID, seed)
	if err != nil {
		return nil, err
	}
	s, err := m.open(meta, page)
	if err != nil {
		m.store.DeleteSession(meta.ID)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[meta.ID] = s
	m.mu.Unlock()

	m.logger.Info("Session %s created on page %s (seed %d)", meta.ID, page.ID, seed)
	return s, nil
}

// Get returns a live session, reopening it from the store when the process
// only knows it from a previous run
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	meta, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	page, err := dashboard.Lookup(meta.Page)
	if err != nil {
		return nil, err
	}
	s, err = m.open(meta, page)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	return s, nil
}

// Delete ends a session and removes everything it owns
func (m *Manager) Delete(id string) error {
	if err := m.store.DeleteSession(id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	if m.defaultID == id {
		m.defaultID = ""
	}
	m.mu.Unlock()
	m.logger.Info("Session %s deleted", id)
	return nil
}

// List returns the live sessions ordered by creation time
func (m *Manager) List() []*Session {
	m.mu.Lock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].meta.CreatedAt.Before(out[j].meta.CreatedAt)
	})
	return out
}

// Default returns the shared sales overview session used by clients that
// do not manage sessions themselves
func (m *Manager) Default() (*Session, error) {
	m.defaultMu.Lock()
	defer m.defaultMu.Unlock()

	m.mu.Lock()
	id := m.defaultID
	m.mu.Unlock()
	if id != "" {
		if s, err := m.Get(id); err == nil {
			return s, nil
		} else if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}

	s, err := m.Create(dashboard.PageSalesOverview, DefaultSeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create default session: %w", err)
	}
	m.mu.Lock()
	m.defaultID = s.ID()
	m.mu.Unlock()
	return s, nil
}

// open builds the in-memory side of a stored session: its own dataset,
// generated from the session seed
func (m *Manager) open(meta *db.Session, page *dashboard.Page) (*Session, error) {
	s := &Session{
		meta:   meta,
		page:   page,
		mgr:    m,
		logger: m.logger.With("session", meta.ID),
		files:  make(map[string]*fileEntry),
	}
	if page.Dataset == "" {
		return s, nil
	}

	base, err := datasetFor(page, meta.Seed, m.now())
	if err != nil {
		return nil, err
	}
	s.base = base
	s.filtered = base
	return s, nil
}
