package session

import (
	"context"
	"sync"
	"time"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/config"
)

// Manager tracks live sessions by device and enforces the session policy.
type Manager struct {
	policy   string
	sessions map[string]map[*Session]struct{}
	mu       sync.RWMutex
	logger   Logger
}

// NewManager creates a manager for policy ("multi" or "single").
func NewManager(policy string) *Manager {
	if policy == "" {
		policy = config.SessionPolicyMulti
	}
	return &Manager{
		policy:   policy,
		sessions: make(map[string]map[*Session]struct{}),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Register adds s. Under the single policy it fails with
// ErrDuplicateSession when the device already has a session.
func (m *Manager) Register(s *Session) error {
	m.mu.Lock()
	set := m.sessions[s.deviceID]
	if m.policy == config.SessionPolicySingle && len(set) > 0 {
		m.mu.Unlock()
		return ErrDuplicateSession
	}
	if set == nil {
		set = make(map[*Session]struct{})
		m.sessions[s.deviceID] = set
	}
	set[s] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("session registered", "device_id", s.deviceID, "session_id", s.id, "sessions", m.Count())
	return nil
}

// Unregister removes s and reports whether it was registered. Only the
// caller that actually removed it gets true.
func (m *Manager) Unregister(s *Session) bool {
	m.mu.Lock()
	set := m.sessions[s.deviceID]
	_, existed := set[s]
	delete(set, s)
	if len(set) == 0 {
		delete(m.sessions, s.deviceID)
	}
	m.mu.Unlock()

	if existed {
		m.logger.Debug("session unregistered", "device_id", s.deviceID, "session_id", s.id, "sessions", m.Count())
	}
	return existed
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.sessions {
		n += len(set)
	}
	return n
}

// DeviceCount returns the number of live sessions for deviceID.
func (m *Manager) DeviceCount(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[deviceID])
}

// Run blocks until ctx is cancelled, then closes every session.
func (m *Manager) Run(ctx context.Context) {
	<-ctx.Done()
	m.closeAll()
}

// Shutdown closes every session and waits until they have all run their
// offline transition or ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeAll()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for m.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// closeAll snapshots the sessions under the lock and closes them after
// releasing it, since teardown unregisters.
func (m *Manager) closeAll() {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, set := range m.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.Close()
	}
}
