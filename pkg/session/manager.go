package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/suite"
)

// ErrNotFound reports a session id with no live session behind it.
var ErrNotFound = errors.New("session not found")

// Manager manages sessions in memory.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	global   config.Global
	keywords *keyword.Registry
	logger   *slog.Logger
}

// NewManager creates a new session manager. All sessions it creates share
// the keyword registry and global configuration.
func NewManager(global config.Global, kws *keyword.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		global:   global,
		keywords: kws,
		logger:   logger,
	}
}

// Create builds a new session from a session config and its parsed suite and
// registers it under its generated id.
func (m *Manager) Create(ctx context.Context, cfg config.SessionConfig, ts *suite.Suite) (*Session, error) {
	s, err := New(ctx, cfg, m.global, ts, m.keywords, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("Session registered", "session_id", s.ID())
	return s, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	return s, nil
}

// List returns the ids of all live sessions, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Terminate tears down a session and removes it from the manager. The
// session is removed even when teardown reports an error.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s.Terminate(ctx)
}

// TerminateAll tears down every live session. Used on server shutdown.
func (m *Manager) TerminateAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Terminate(ctx); err != nil {
			m.logger.Warn("Session teardown failed", "session_id", s.ID(), "error", err)
		}
	}
}
