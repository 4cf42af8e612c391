// Package cryptoadapter defines the seam between the session engine and
// whatever DTLS/PSK primitive actually drives the handshake and record
// layer. The engine never depends on a concrete crypto library; it only
// calls through Adapter, HandshakeContext and EstablishedContext.
package cryptoadapter

import (
	"errors"
	"time"
)

// Send delivers one outbound datagram to a peer. Handshake steps and
// established decrypts may invoke it zero or more times (retransmits,
// alerts) before returning.
type Send func(datagram []byte)

// ErrHelloVerifyRequired is returned by Step when the server demands a
// stateless cookie before allocating state. This is the expected restart
// path, not a failure: the caller removes the Handshaking state without
// logging at error level and waits for the peer to retry.
var ErrHelloVerifyRequired = errors.New("cryptoadapter: hello verify required")

// ErrCloseNotify is returned by Decrypt when the peer has signalled an
// orderly shutdown of the session.
var ErrCloseNotify = errors.New("cryptoadapter: close notify received")

// SSLError wraps any other failure raised by the crypto primitive, for a
// single bogus datagram during handshake or a fatal record-layer failure
// on an established session.
type SSLError struct {
	Op  string
	Err error
}

func (e *SSLError) Error() string {
	if e.Err == nil {
		return "cryptoadapter: " + e.Op
	}
	return "cryptoadapter: " + e.Op + ": " + e.Err.Error()
}

func (e *SSLError) Unwrap() error { return e.Err }

// NewSSLError wraps err as a generic crypto-primitive failure for the
// named operation ("step", "decrypt", "encrypt", ...).
func NewSSLError(op string, err error) *SSLError {
	return &SSLError{Op: op, Err: err}
}

// HandshakeContext drives one peer's handshake. Step is called once per
// inbound datagram (or with an empty datagram to drive a retransmit) and
// returns either an Established context (handshake complete) or nil with
// a nil error to mean "still handshaking".
type HandshakeContext interface {
	// Step advances the handshake with datagram (which may be empty to
	// trigger a bare retransmit). It may call send any number of times
	// before returning. A non-nil EstablishedContext return means the
	// handshake completed. ErrHelloVerifyRequired and SSLError are the
	// only errors Step may return; the engine handles any other error
	// exactly like a generic SSLError. The engine does no logging of
	// its own, so such an error is not logged at error level or
	// otherwise singled out.
	Step(datagram []byte, send Send) (EstablishedContext, error)

	// Close releases resources without producing a session blob. Used
	// on handshake failure, hello-verify, and expiry.
	Close()

	// ReadTimeout reports how long to wait before re-entering Step with
	// an empty datagram to drive a DTLS handshake retransmission. Zero
	// means "no retransmit scheduled right now" (wait for the peer).
	ReadTimeout() time.Duration

	// StartTimestamp is when this handshake context was created.
	StartTimestamp() time.Time
}

// EstablishedContext is a completed DTLS session: it can decrypt inbound
// records, encrypt outbound plaintext, and serialize itself for later
// resumption.
type EstablishedContext interface {
	// Decrypt authenticates and decrypts one inbound record. It may call
	// send to emit an alert. An empty, nil-error return means the record
	// carried no application plaintext (e.g. a handshake-layer message
	// piggybacked post-handshake). ErrCloseNotify and SSLError are the
	// only errors Decrypt may return.
	Decrypt(datagram []byte, send Send) ([]byte, error)

	// Encrypt produces a ciphertext record for plaintext. Returns
	// SSLError on failure.
	Encrypt(plaintext []byte) ([]byte, error)

	// SaveAndClose serializes the session to an opaque blob suitable for
	// later LoadSession, then releases resources. Called only when
	// OwnCID is non-empty.
	SaveAndClose() ([]byte, error)

	// Close releases resources without producing a blob.
	Close()

	// OwnCID is the Connection ID this side advertised to the peer, or
	// nil if CID is disabled for this session.
	OwnCID() []byte

	// PeerCID is the Connection ID the peer advertised, or nil.
	PeerCID() []byte

	// CipherSuite names the negotiated cipher suite.
	CipherSuite() string

	// PeerCertificateSubject is the authenticated peer identity, or
	// empty for PSK sessions (no certificates are exchanged).
	PeerCertificateSubject() string

	// Reloaded is true when this context was produced by LoadSession
	// rather than by completing a fresh handshake.
	Reloaded() bool
}

// CIDSupplier issues Connection IDs. The engine calls Next once at
// construction time to learn cidSize; all CIDs an Adapter produces for
// the lifetime of the engine must share that length.
type CIDSupplier interface {
	Next() ([]byte, error)
}

// Adapter constructs and reconstructs crypto contexts for an engine
// instance. One Adapter is configured per engine; it is the only thing
// the engine knows about the underlying DTLS/PSK primitive.
type Adapter interface {
	// NewHandshakeContext starts a fresh handshake for a peer that has
	// no existing session. addr is opaque to the adapter beyond being a
	// stable identifier useful for cookie binding.
	NewHandshakeContext(addr string) (HandshakeContext, error)

	// LoadSession reconstructs an EstablishedContext from a previously
	// saved blob, for a peer now reachable at addr (which may differ
	// from the address the session was originally established on, in
	// the CID-roam case). Reloaded() on the result must report true.
	LoadSession(cid, blob []byte, addr string) (EstablishedContext, error)

	// PeekCID inspects an inbound datagram that carries no matching
	// session and extracts a CID of length cidSize if the datagram's
	// framing makes one recognizable. Returns (nil, false) if no CID
	// can be read from the datagram (e.g. it looks like a ClientHello).
	PeekCID(cidSize int, datagram []byte) ([]byte, bool)

	// CIDSupplier returns the CID supplier configured for this adapter,
	// or nil if CID support is disabled (cidSize == 0).
	CIDSupplier() CIDSupplier
}
