package eventlog

import "sync"

// Manager owns one Buffer per stream id. Buffers are created lazily and
// survive stream recreation so history spans config reloads.
type Manager struct {
	mu   sync.RWMutex
	bufs map[string]*Buffer
}

func NewManager() *Manager {
	return &Manager{bufs: make(map[string]*Buffer)}
}

// Get returns the buffer for id, creating it if missing.
func (m *Manager) Get(id string) *Buffer {
	m.mu.RLock()
	buf, ok := m.bufs[id]
	m.mu.RUnlock()
	if ok {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok := m.bufs[id]; ok {
		return buf
	}
	buf = NewBuffer()
	m.bufs[id] = buf
	return buf
}

// Lookup returns the buffer for id without creating one.
func (m *Manager) Lookup(id string) (*Buffer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buf, ok := m.bufs[id]
	return buf, ok
}

// Remove forgets the buffer for id.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.bufs, id)
	m.mu.Unlock()
}
