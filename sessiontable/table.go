// Package sessiontable holds the engine's address-to-state mapping: the
// single source of truth for "is there a session for this peer". It is
// deliberately unsynchronized — see the concurrency model in the engine
// package — because correctness depends on confinement to one executor,
// not on locking.
package sessiontable

import (
	"github.com/jkiiskila/dtls-session-engine/peerstate"
)

// Table maps a peer address to its per-peer state. At most one state
// exists per address at any time.
type Table struct {
	byAddr map[string]*peerstate.State
}

// New creates an empty table.
func New() *Table {
	return &Table{byAddr: make(map[string]*peerstate.State)}
}

// Get returns the state for addr, or nil if none exists.
func (t *Table) Get(addr string) *peerstate.State {
	return t.byAddr[addr]
}

// Put inserts or replaces the state for addr. Replacing an existing
// entry does not close or cancel the timer of whatever was there before
// — per the documented load_session collision behavior, that is the
// caller's responsibility to handle (or not) before calling Put.
func (t *Table) Put(addr string, s *peerstate.State) {
	t.byAddr[addr] = s
}

// Remove deletes the state for addr, if any. It does not cancel the
// state's timer; callers must cancel before removing.
func (t *Table) Remove(addr string) {
	delete(t.byAddr, addr)
}

// Len returns the number of addresses with state.
func (t *Table) Len() int {
	return len(t.byAddr)
}

// Clear removes every entry. Used by close_all after every state has
// been individually cancelled and closed.
func (t *Table) Clear() {
	t.byAddr = make(map[string]*peerstate.State)
}

// ForEach calls fn for every entry. fn must not mutate the table.
func (t *Table) ForEach(fn func(addr string, s *peerstate.State)) {
	for addr, s := range t.byAddr {
		fn(addr, s)
	}
}
