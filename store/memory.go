// Package store provides an in-process, CID-keyed implementation of
// persistence.Store, for demos and tests. A real deployment backs
// persistence.Store with an external KV store instead.
package store

import (
	"sync"

	"github.com/jkiiskila/dtls-session-engine/persistence"
)

// Memory is a CID-keyed, mutex-guarded session store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]persistence.SessionWithContext
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]persistence.SessionWithContext)}
}

// StoreSession implements persistence.Store.
func (m *Memory) StoreSession(cid []byte, session persistence.SessionWithContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[string(cid)] = session
	return nil
}

// Load implements persistence.Store.
func (m *Memory) Load(cid []byte) (persistence.SessionWithContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[string(cid)]
	return session, ok
}

// Delete removes a stored session by CID, for a caller that wants to
// evict a session after a successful load_session (avoiding reuse of a
// stale blob on a second roam).
func (m *Memory) Delete(cid []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, string(cid))
}

// Len reports the number of stored sessions, for tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

var _ persistence.Store = (*Memory)(nil)
