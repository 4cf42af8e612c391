// Package peerstate defines the per-peer tagged state the session engine
// keeps in its session table: a peer is either mid-handshake or has an
// established session, never both, and owns exactly one pending timer at
// a time.
package peerstate

import (
	"sync"
	"time"

	"github.com/jkiiskila/dtls-session-engine/cryptoadapter"
)

// Kind tags which variant a State holds.
type Kind int

const (
	// Handshaking is the state while a handshake is in progress.
	Handshaking Kind = iota
	// Established is the state once the handshake has completed or a
	// session has been reloaded from storage.
	Established
)

func (k Kind) String() string {
	switch k {
	case Handshaking:
		return "Handshaking"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

// State is the tagged per-peer variant held in the session table. Only
// the fields relevant to the current Kind are meaningful; callers must
// check Kind before reading Handshake or auth-context fields.
//
// A State owns exactly one pending timer handle at a time (Timer). The
// engine's timer callbacks identity-check against the live table entry
// before acting, so a State value must never be copied out of the table
// and re-inserted under a different pointer: CancelTimer/SetTimer work
// on *State identity.
type State struct {
	Kind Kind

	// Handshake is set when Kind == Handshaking.
	Handshake cryptoadapter.HandshakeContext

	// Session is set when Kind == Established.
	Session cryptoadapter.EstablishedContext

	// StartTimestamp is the handshake context's start time while
	// Handshaking, the completion time once promoted to Established, or
	// the caller-supplied session-start time for a state built with
	// NewEstablished (LoadSession passes the stored original start).
	StartTimestamp time.Time

	// Timer is the handle most recently returned by the scheduler for
	// this state's pending timeout. Nil means no timer is outstanding
	// (only true transiently, between Cancel and the next schedule).
	Timer TimerHandle

	mu sync.RWMutex

	// authContext is only mutable while Kind == Established.
	authContext map[string]string
}

// TimerHandle is whatever the scheduler returns for a scheduled
// callback; the engine only ever calls Cancel on it.
type TimerHandle interface {
	Cancel()
}

// NewHandshaking creates a fresh Handshaking state around hctx.
func NewHandshaking(hctx cryptoadapter.HandshakeContext) *State {
	return &State{
		Kind:           Handshaking,
		Handshake:      hctx,
		StartTimestamp: hctx.StartTimestamp(),
	}
}

// NewEstablished creates a fresh Established state, seeded with an
// existing authentication context (possibly nil, meaning "start empty").
// Used both on handshake completion and on LoadSession.
func NewEstablished(ectx cryptoadapter.EstablishedContext, startTimestamp time.Time, seedAuth map[string]string) *State {
	auth := make(map[string]string, len(seedAuth))
	for k, v := range seedAuth {
		auth[k] = v
	}
	return &State{
		Kind:           Established,
		Session:        ectx,
		StartTimestamp: startTimestamp,
		authContext:    auth,
	}
}

// CancelTimer cancels the currently pending timer, if any, and clears
// the handle. Every state-advancing operation calls this before
// scheduling the next timer, per the single-outstanding-timer invariant.
func (s *State) CancelTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Timer != nil {
		s.Timer.Cancel()
		s.Timer = nil
	}
}

// SetTimer records the handle for a newly scheduled timer, replacing any
// prior handle (which must already have been cancelled by the caller).
func (s *State) SetTimer(h TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Timer = h
}

// PromoteToEstablished transitions a Handshaking state in place to
// Established. Used by the handshake driver on completion rather than
// replacing the table entry, so a single *State identity survives the
// transition for in-flight timer identity checks.
func (s *State) PromoteToEstablished(ectx cryptoadapter.EstablishedContext, startTimestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Kind = Established
	s.Handshake = nil
	s.Session = ectx
	s.StartTimestamp = startTimestamp
	s.authContext = make(map[string]string)
}

// PutAuthContext sets (value non-nil) or removes (value nil) a key in the
// authentication context. Returns false without effect unless the state
// is Established: callers that race a handshake in progress silently
// lose the write and must retry once the session has started.
func (s *State) PutAuthContext(key string, value *string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind != Established {
		return false
	}
	if value == nil {
		delete(s.authContext, key)
	} else {
		s.authContext[key] = *value
	}
	return true
}

// AuthContextSnapshot returns a copy of the current authentication
// context, safe for a caller to retain past this call.
func (s *State) AuthContextSnapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.authContext))
	for k, v := range s.authContext {
		out[k] = v
	}
	return out
}
