package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/sebas/dialtone/internal/signaling"
)

// Manager tracks active sessions by Call-ID. Concurrent calls do not
// interfere: each session owns its own socket and SRTP context, and the
// shared signaling channel is multiplexed purely by Call-ID filters.
type Manager struct {
	ch  signaling.Channel
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions share ch and cfg. The
// caller's OnDisposed callback is preserved; the manager additionally
// unregisters each session when it disposes.
func NewManager(ch signaling.Channel, cfg Config) *Manager {
	return &Manager{
		ch:       ch,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// CreateFromInvite builds and registers a session for an inbound INVITE.
// A second INVITE with a Call-ID already in flight is rejected.
func (m *Manager) CreateFromInvite(invite *sip.Request) (*Session, error) {
	cfg := m.cfg
	s, err := New(m.ch, invite, m.hooked(cfg))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.sessions[s.CallID()]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCallID, s.CallID())
	}
	m.sessions[s.CallID()] = s
	m.mu.Unlock()

	slog.Info("[Manager] Session created", "call_id", s.CallID(), "direction", s.direction)
	return s, nil
}

// CreateFromAnswer builds and registers a session for a call we placed,
// once its 2xx answer arrived.
func (m *Manager) CreateFromAnswer(invite *sip.Request, answer *sip.Response) (*Session, error) {
	cfg := m.cfg
	s, err := NewFromAnswer(m.ch, invite, answer, m.hooked(cfg))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.sessions[s.CallID()]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCallID, s.CallID())
	}
	m.sessions[s.CallID()] = s
	m.mu.Unlock()

	slog.Info("[Manager] Session created", "call_id", s.CallID(), "direction", s.direction)
	return s, nil
}

// hooked chains the manager's cleanup onto the configured callbacks.
func (m *Manager) hooked(cfg Config) Config {
	cfg.onTerminated = func(s *Session) {
		m.mu.Lock()
		delete(m.sessions, s.CallID())
		m.mu.Unlock()
		slog.Debug("[Manager] Session removed", "call_id", s.CallID())
	}
	return cfg
}

// Get returns the session for a Call-ID, if any.
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Terminate disposes the session for a Call-ID. Reports whether one
// existed.
func (m *Manager) Terminate(callID string) bool {
	m.mu.RLock()
	s, ok := m.sessions[callID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.Dispose()
	return true
}

// Shutdown disposes every live session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Dispose()
	}
	slog.Info("[Manager] Shutdown complete", "disposed", len(sessions))
}
