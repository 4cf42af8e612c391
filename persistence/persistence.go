// Package persistence defines the session-store contract: the on-the-wire
// shape of a stored session and the callback the engine uses to hand one
// off for external storage. The store itself (an external key-value
// store keyed by own-CID) is a caller-supplied collaborator; this package
// only fixes the shape both sides agree on.
package persistence

import "time"

// SessionWithContext is everything needed to resurrect an Established
// session later: the opaque crypto blob, the authentication-context map
// as of session end, and when the session originally started. The
// engine treats Blob as opaque; callers key their store by own-CID.
type SessionWithContext struct {
	Blob                  []byte
	AuthenticationContext map[string]string
	SessionStartTimestamp time.Time
}

// Store persists and retrieves SessionWithContext values, keyed by
// own-CID bytes. StoreSession is called at most once per session end and
// must be treated as idempotent by the engine's caller. Load is not part
// of the engine's contract directly — the engine only exposes
// LoadSession, fed by whatever the caller's read-through against Store
// produces — but is included here because store.Memory needs a
// symmetric Get to satisfy that read-through path.
type Store interface {
	// StoreSession saves session for cid. Implementations must not
	// block the caller for long: the engine invokes this synchronously
	// from its executor.
	StoreSession(cid []byte, session SessionWithContext) error

	// Load retrieves a previously stored session for cid. ok is false
	// if no session is stored under that CID.
	Load(cid []byte) (session SessionWithContext, ok bool)
}

// StoreSessionFunc adapts a store-and-close callback (the minimal shape
// an engine constructor actually requires) into the write half of a
// Store, for callers that only need StoreSession and manage their own
// read-through.
type StoreSessionFunc func(cid []byte, session SessionWithContext) error
