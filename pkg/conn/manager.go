package conn

import (
	"net"
	"sync"
)

// Manager is a keyed table of all active Connections. All mutations and
// lookups are serialized under a single mutex; callers must not hold the
// mutex across blocking I/O (enforced by convention: Manager never calls
// Connection.Send/SendCommand while holding its lock).
type Manager struct {
	mu    sync.RWMutex
	byID  map[string]*Connection
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]*Connection)}
}

// Add registers a Connection under its ID.
func (m *Manager) Add(c *Connection) {
	m.mu.Lock()
	m.byID[c.ID] = c
	m.mu.Unlock()
}

// Remove drops a Connection from the table by ID.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.byID, id)
	m.mu.Unlock()
}

// Get looks up a Connection by ID.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

// All returns a snapshot of every registered Connection.
func (m *Manager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out
}

// ByKind returns every Connection of the given kind.
func (m *Manager) ByKind(kind Kind) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Connection
	for _, c := range m.byID {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// ByState returns every Connection currently in the given state.
func (m *Manager) ByState(state State) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Connection
	for _, c := range m.byID {
		if c.State() == state {
			out = append(out, c)
		}
	}
	return out
}

// ByRemoteName returns every Connection whose RemoteName matches name.
func (m *Manager) ByRemoteName(name string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Connection
	for _, c := range m.byID {
		if c.RemoteName() == name {
			out = append(out, c)
		}
	}
	return out
}

// FindBySocket returns the Connection wrapping the given net.Conn, if any.
func (m *Manager) FindBySocket(s net.Conn) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.byID {
		if c.Socket() == s {
			return c, true
		}
	}
	return nil, false
}

// CentraldConnection returns the authenticated centrald Connection, if any.
func (m *Manager) CentraldConnection() (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.byID {
		if c.Kind == KindCentrald && c.State() == AuthOK {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of registered connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// CloseAll closes every registered connection.
func (m *Manager) CloseAll() {
	for _, c := range m.All() {
		c.Close()
	}
}

// Broadcast sends text to every AUTH_OK connection of the given kind. If
// kind is nil, every AUTH_OK connection receives it.
func (m *Manager) Broadcast(text string, kind *Kind) {
	for _, c := range m.All() {
		if c.State() != AuthOK {
			continue
		}
		if kind != nil && c.Kind != *kind {
			continue
		}
		_ = c.SendMessage(text)
	}
}

// CheckAllKeepalives runs CheckKeepalive on every registered connection.
func (m *Manager) CheckAllKeepalives() {
	for _, c := range m.All() {
		c.CheckKeepalive()
	}
}

// CleanStale closes every connection reporting IsTimedOut, and returns
// how many were closed.
func (m *Manager) CleanStale() int {
	n := 0
	for _, c := range m.All() {
		if c.IsTimedOut() {
			c.Close()
			n++
		}
	}
	return n
}

// CheckAllDeadlines runs CheckDeadline on every registered connection —
// the per-connection command-queue helper's periodic poll.
func (m *Manager) CheckAllDeadlines() {
	for _, c := range m.All() {
		c.CheckDeadline()
	}
}
