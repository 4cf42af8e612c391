// Package callbacks defines the purely observational lifecycle interface
// the engine reports through: handshake and session start/finish, and
// dropped messages. Implementations must not block the engine for long,
// since they are invoked synchronously from its executor.
package callbacks

// HandshakeReason classifies why a handshake stopped.
type HandshakeReason int

const (
	// HandshakeSucceeded means the handshake completed and the peer now
	// has an Established state.
	HandshakeSucceeded HandshakeReason = iota
	// HandshakeFailed means the crypto adapter reported a fatal error
	// (including HelloVerifyRequired, which is reported without an
	// error-level log but still surfaces here with a non-nil Err so
	// callers can distinguish it via errors.Is).
	HandshakeFailed
	// HandshakeExpired means the handshake timer fired before
	// completion.
	HandshakeExpired
)

func (r HandshakeReason) String() string {
	switch r {
	case HandshakeSucceeded:
		return "SUCCEEDED"
	case HandshakeFailed:
		return "FAILED"
	case HandshakeExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// SessionReason classifies why an Established session ended.
type SessionReason int

const (
	// SessionClosed means the peer sent a close-notify.
	SessionClosed SessionReason = iota
	// SessionFailed means encrypt or decrypt raised a fatal error.
	SessionFailed
	// SessionExpired means the idle timer fired.
	SessionExpired
)

func (r SessionReason) String() string {
	switch r {
	case SessionClosed:
		return "CLOSED"
	case SessionFailed:
		return "FAILED"
	case SessionExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle receives purely observational notifications from the engine.
// Every method is invoked synchronously from the engine's executor.
type Lifecycle interface {
	// HandshakeStarted is reported when a new Handshaking state is
	// created for addr.
	HandshakeStarted(addr string)

	// HandshakeFinished is reported when a Handshaking state is removed,
	// successfully or not.
	HandshakeFinished(addr string, reason HandshakeReason, err error)

	// SessionStarted is reported when an Established state is created,
	// either by completing a handshake or by LoadSession (reloaded).
	SessionStarted(addr, cipherSuite string, reloaded bool)

	// SessionFinished is reported when an Established state is removed.
	SessionFinished(addr string, reason SessionReason, err error)

	// MessageDropped is reported for any inbound datagram the engine
	// discarded without effect: a crypto error during handshake, a
	// failed LoadSession, or a missing session blob.
	MessageDropped(addr string)

	// PersistenceFailed is reported when store-and-close cannot hand a
	// session off for persistence: the adapter's SaveAndClose failed,
	// or the configured StoreSession returned an error. The session is
	// still closed either way; this is purely observational so callers
	// can log or alert on it.
	PersistenceFailed(addr string, err error)
}

// NopLifecycle discards every notification. Useful as a default when a
// caller has not configured one.
type NopLifecycle struct{}

func (NopLifecycle) HandshakeStarted(addr string)                                     {}
func (NopLifecycle) HandshakeFinished(addr string, reason HandshakeReason, err error) {}
func (NopLifecycle) SessionStarted(addr, cipherSuite string, reloaded bool)           {}
func (NopLifecycle) SessionFinished(addr string, reason SessionReason, err error)     {}
func (NopLifecycle) MessageDropped(addr string)                                       {}
func (NopLifecycle) PersistenceFailed(addr string, err error)                         {}
