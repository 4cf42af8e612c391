// Package engine implements the per-peer DTLS session lifecycle engine:
// address-to-session demultiplexing with CID fallback, handshake driving
// through a cryptoadapter.Adapter, timer-based expiration and
// retransmission, and session store/load across restarts and CID-based
// migration.
//
// The engine is single-threaded cooperative (see Config.Scheduler):
// every public method and every fired timer runs on one executor, and
// the session table is intentionally unsynchronized. Callers on other
// goroutines reach the engine safely because each public method posts
// its work onto that executor and blocks for the result.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/jkiiskila/dtls-session-engine/callbacks"
	"github.com/jkiiskila/dtls-session-engine/cryptoadapter"
	"github.com/jkiiskila/dtls-session-engine/peerstate"
	"github.com/jkiiskila/dtls-session-engine/persistence"
	"github.com/jkiiskila/dtls-session-engine/scheduler"
	"github.com/jkiiskila/dtls-session-engine/sessiontable"
	"github.com/jkiiskila/dtls-session-engine/transport"
)

// DefaultExpireAfter is the idle timeout for Established sessions and
// the hard ceiling for Handshaking sessions, used when Config.ExpireAfter
// is zero.
const DefaultExpireAfter = 60 * time.Second

// Role distinguishes which side of the handshake this engine plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Sentinel errors returned by the engine's public methods.
var (
	// ErrEncryptFailed marks a fatal encrypt error from the crypto
	// adapter. EncryptOutbound returns an error wrapping both this
	// sentinel and the adapter's error; the Established state has
	// already been removed by the time it is returned.
	ErrEncryptFailed = errors.New("engine: encrypt failed")
)

// Config carries the engine's constructor options.
type Config struct {
	// ExpireAfter is the idle timeout / handshake ceiling. Zero means
	// DefaultExpireAfter.
	ExpireAfter time.Duration

	// Role records which side of the handshake this engine plays. The
	// engine does not read it and treats both roles identically; the
	// adapter's own configuration decides how handshakes behave.
	Role Role

	// CipherSuites is kept with the configuration only; the engine
	// neither reads nor exposes it.
	CipherSuites []string

	// Adapter is the sole seam into the DTLS/PSK primitive. Required.
	Adapter cryptoadapter.Adapter

	// StoreSession persists a session at Established-state removal time
	// when its own-CID is non-empty. May be nil, in which case
	// store-and-close degrades to close-only: the session is not
	// persisted.
	StoreSession persistence.StoreSessionFunc

	// Callbacks receives lifecycle notifications. Nil means
	// callbacks.NopLifecycle{}.
	Callbacks callbacks.Lifecycle

	// Scheduler is the single-threaded executor. Required.
	Scheduler scheduler.Scheduler

	// Transport sends outbound datagrams produced as a side effect of
	// handshake steps and decrypts (retransmits, alerts). Required.
	Transport transport.Outbound
}

// ResultKind tags the variant of a ReceiveResult.
type ResultKind int

const (
	// Handled means the datagram progressed a handshake, was consumed
	// as an alert, or otherwise produced no plaintext.
	Handled ResultKind = iota
	// Decrypted means Packet carries application plaintext.
	Decrypted
	// DecryptFailed means an Established state failed to decrypt the
	// datagram; its state has been removed.
	DecryptFailed
	// CidSessionMissing means no state exists for the address, the
	// datagram is post-handshake, and it carries CID. The caller must
	// consult external storage and call LoadSession.
	CidSessionMissing
)

// SessionContext is a snapshot of an Established state's attributes,
// included with every Decrypted result so callers can attribute
// application data to an authenticated peer.
type SessionContext struct {
	PeerCertificateSubject string
	AuthenticationContext  map[string]string
	CID                    []byte
	SessionStartTimestamp  time.Time
}

// ReceiveResult is returned by HandleInbound.
type ReceiveResult struct {
	Kind    ResultKind
	Packet  []byte
	Context SessionContext
	CID     []byte
}

// Engine is the per-peer DTLS session lifecycle engine.
type Engine struct {
	cfg         Config
	expireAfter time.Duration
	cidSize     int
	table       *sessiontable.Table
	lifecycle   callbacks.Lifecycle
}

// New constructs an Engine. It calls Config.Adapter.CIDSupplier() once to
// determine cidSize: if the supplier is nil, CID support is disabled for
// the lifetime of this engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("engine: Config.Adapter is required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("engine: Config.Scheduler is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("engine: Config.Transport is required")
	}

	expireAfter := cfg.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = DefaultExpireAfter
	}

	lifecycle := cfg.Callbacks
	if lifecycle == nil {
		lifecycle = callbacks.NopLifecycle{}
	}

	cidSize := 0
	if supplier := cfg.Adapter.CIDSupplier(); supplier != nil {
		cid, err := supplier.Next()
		if err != nil {
			return nil, err
		}
		cidSize = len(cid)
	}

	return &Engine{
		cfg:         cfg,
		expireAfter: expireAfter,
		cidSize:     cidSize,
		table:       sessiontable.New(),
		lifecycle:   lifecycle,
	}, nil
}

// send is the outbound-send callback handed to the crypto adapter for
// handshake steps and decrypts.
func (e *Engine) send(addr string) cryptoadapter.Send {
	return func(datagram []byte) {
		_ = e.cfg.Transport.Send(datagram, addr)
	}
}

// HandleInbound classifies and dispatches a datagram: handshake step,
// established decrypt, CID-routed lookup miss, or fresh handshake start.
func (e *Engine) HandleInbound(addr string, buf []byte) ReceiveResult {
	result := make(chan ReceiveResult, 1)
	e.cfg.Scheduler.Post(func() {
		result <- e.handleInboundSync(addr, buf)
	})
	return <-result
}

func (e *Engine) handleInboundSync(addr string, buf []byte) ReceiveResult {
	st := e.table.Get(addr)

	if st != nil && st.Kind == peerstate.Handshaking {
		e.stepHandshake(addr, st, buf)
		return ReceiveResult{Kind: Handled}
	}

	if st != nil && st.Kind == peerstate.Established {
		return e.decryptEstablished(addr, st, buf)
	}

	if e.cidSize > 0 {
		if cid, ok := sessiontable.ExtractCID(e.cfg.Adapter, e.cidSize, buf); ok {
			return ReceiveResult{Kind: CidSessionMissing, CID: cid}
		}
	}

	return e.startHandshake(addr, buf)
}

func (e *Engine) startHandshake(addr string, buf []byte) ReceiveResult {
	hctx, err := e.cfg.Adapter.NewHandshakeContext(addr)
	if err != nil {
		e.lifecycle.MessageDropped(addr)
		return ReceiveResult{Kind: Handled}
	}

	st := peerstate.NewHandshaking(hctx)
	e.table.Put(addr, st)
	e.lifecycle.HandshakeStarted(addr)

	e.stepHandshake(addr, st, buf)
	return ReceiveResult{Kind: Handled}
}

// Connect starts a handshake toward addr without waiting for an inbound
// datagram, for the initiating side of a connection (a client-role
// adapter). Step is immediately called with an empty datagram, which a
// client-role HandshakeContext treats as "send the first message".
func (e *Engine) Connect(addr string) {
	done := make(chan struct{})
	e.cfg.Scheduler.Post(func() {
		e.startHandshake(addr, nil)
		close(done)
	})
	<-done
}

// stepHandshake drives a handshake forward by one step.
func (e *Engine) stepHandshake(addr string, st *peerstate.State, buf []byte) {
	st.CancelTimer()

	ectx, err := st.Handshake.Step(buf, e.send(addr))
	if err != nil {
		e.finishHandshakeError(addr, st, err)
		return
	}
	if ectx != nil {
		e.completeHandshake(addr, st, ectx)
		return
	}

	// Still handshaking: schedule the next timer.
	if rt := st.Handshake.ReadTimeout(); rt > 0 {
		st.SetTimer(e.cfg.Scheduler.After(rt, func() {
			if e.table.Get(addr) != st {
				return
			}
			e.stepHandshake(addr, st, nil)
		}))
		return
	}

	st.SetTimer(e.cfg.Scheduler.After(e.expireAfter, func() {
		e.onHandshakeExpired(addr, st)
	}))
}

func (e *Engine) finishHandshakeError(addr string, st *peerstate.State, err error) {
	st.Handshake.Close()
	e.table.Remove(addr)

	if errors.Is(err, cryptoadapter.ErrHelloVerifyRequired) {
		// Expected restart: the peer is asked to retry with a cookie.
		// Reported as a failed handshake carrying the error, but not as
		// a dropped message.
		e.lifecycle.HandshakeFinished(addr, callbacks.HandshakeFailed, err)
		return
	}

	e.lifecycle.HandshakeFinished(addr, callbacks.HandshakeFailed, err)
	e.lifecycle.MessageDropped(addr)
}

func (e *Engine) completeHandshake(addr string, st *peerstate.State, ectx cryptoadapter.EstablishedContext) {
	st.PromoteToEstablished(ectx, time.Now())
	e.lifecycle.HandshakeFinished(addr, callbacks.HandshakeSucceeded, nil)
	e.lifecycle.SessionStarted(addr, ectx.CipherSuite(), ectx.Reloaded())
	e.scheduleIdle(addr, st)
}

func (e *Engine) onHandshakeExpired(addr string, st *peerstate.State) {
	if e.table.Get(addr) != st {
		return
	}
	st.Handshake.Close()
	e.table.Remove(addr)
	e.lifecycle.HandshakeFinished(addr, callbacks.HandshakeExpired, nil)
}

// decryptEstablished drives an Established session's inbound decrypt.
func (e *Engine) decryptEstablished(addr string, st *peerstate.State, buf []byte) ReceiveResult {
	st.CancelTimer()

	plaintext, err := st.Session.Decrypt(buf, e.send(addr))
	if err != nil {
		if errors.Is(err, cryptoadapter.ErrCloseNotify) {
			e.table.Remove(addr)
			st.Session.Close()
			e.lifecycle.SessionFinished(addr, callbacks.SessionClosed, nil)
			return ReceiveResult{Kind: DecryptFailed}
		}

		e.table.Remove(addr)
		st.Session.Close()
		e.lifecycle.SessionFinished(addr, callbacks.SessionFailed, err)
		e.lifecycle.MessageDropped(addr)
		return ReceiveResult{Kind: DecryptFailed}
	}

	e.scheduleIdle(addr, st)

	if len(plaintext) == 0 {
		return ReceiveResult{Kind: Handled}
	}

	return ReceiveResult{
		Kind:    Decrypted,
		Packet:  plaintext,
		Context: e.snapshot(st),
	}
}

func (e *Engine) scheduleIdle(addr string, st *peerstate.State) {
	st.SetTimer(e.cfg.Scheduler.After(e.expireAfter, func() {
		e.onIdleExpired(addr, st)
	}))
}

func (e *Engine) onIdleExpired(addr string, st *peerstate.State) {
	if e.table.Get(addr) != st {
		return
	}
	e.table.Remove(addr)
	e.storeAndClose(addr, st)
	e.lifecycle.SessionFinished(addr, callbacks.SessionExpired, nil)
}

// storeAndClose persists an Established state's session (if it carries
// an own-CID) before closing it.
func (e *Engine) storeAndClose(addr string, st *peerstate.State) {
	if st.Kind != peerstate.Established {
		if st.Handshake != nil {
			st.Handshake.Close()
		}
		return
	}

	ownCID := st.Session.OwnCID()
	if len(ownCID) == 0 {
		st.Session.Close()
		return
	}

	blob, err := st.Session.SaveAndClose()
	if err != nil {
		e.lifecycle.PersistenceFailed(addr, err)
		return
	}

	if e.cfg.StoreSession == nil {
		return
	}

	session := persistence.SessionWithContext{
		Blob:                  blob,
		AuthenticationContext: st.AuthContextSnapshot(),
		SessionStartTimestamp: st.StartTimestamp,
	}
	if err := e.cfg.StoreSession(ownCID, session); err != nil {
		e.lifecycle.PersistenceFailed(addr, err)
	}
}

// snapshot captures an Established state's attributes for callers.
func (e *Engine) snapshot(st *peerstate.State) SessionContext {
	cid := st.Session.OwnCID()
	if len(cid) == 0 {
		cid = st.Session.PeerCID()
	}
	return SessionContext{
		PeerCertificateSubject: st.Session.PeerCertificateSubject(),
		AuthenticationContext:  st.AuthContextSnapshot(),
		CID:                    cid,
		SessionStartTimestamp:  st.StartTimestamp,
	}
}

// EncryptOutbound encrypts plaintext for addr's Established session. ok
// is false if no Established session exists for addr (not an error).
func (e *Engine) EncryptOutbound(addr string, plaintext []byte) (ciphertext []byte, ok bool, err error) {
	type outcome struct {
		ciphertext []byte
		ok         bool
		err        error
	}
	result := make(chan outcome, 1)
	e.cfg.Scheduler.Post(func() {
		st := e.table.Get(addr)
		if st == nil || st.Kind != peerstate.Established {
			result <- outcome{ok: false}
			return
		}

		ct, encErr := st.Session.Encrypt(plaintext)
		if encErr != nil {
			e.table.Remove(addr)
			st.CancelTimer()
			st.Session.Close()
			e.lifecycle.SessionFinished(addr, callbacks.SessionFailed, encErr)
			result <- outcome{err: fmt.Errorf("%w: %w", ErrEncryptFailed, encErr)}
			return
		}

		result <- outcome{ciphertext: ct, ok: true}
	})
	out := <-result
	return out.ciphertext, out.ok, out.err
}

// LoadSession reconstructs an Established state for addr from a
// previously stored session. An existing entry at addr is silently
// overwritten without being closed.
func (e *Engine) LoadSession(addr string, cid []byte, sessBuf *persistence.SessionWithContext) bool {
	result := make(chan bool, 1)
	e.cfg.Scheduler.Post(func() {
		if sessBuf == nil {
			e.lifecycle.MessageDropped(addr)
			result <- false
			return
		}

		ectx, err := e.cfg.Adapter.LoadSession(cid, sessBuf.Blob, addr)
		if err != nil {
			e.lifecycle.MessageDropped(addr)
			result <- false
			return
		}

		st := peerstate.NewEstablished(ectx, sessBuf.SessionStartTimestamp, sessBuf.AuthenticationContext)
		e.table.Put(addr, st)
		e.scheduleIdle(addr, st)
		e.lifecycle.SessionStarted(addr, ectx.CipherSuite(), true)
		result <- true
	})
	return <-result
}

// PutAuthContext sets (value non-nil) or removes (value nil) key in
// addr's authentication context. Returns false unless addr currently has
// an Established session.
func (e *Engine) PutAuthContext(addr, key string, value *string) bool {
	result := make(chan bool, 1)
	e.cfg.Scheduler.Post(func() {
		st := e.table.Get(addr)
		if st == nil {
			result <- false
			return
		}
		result <- st.PutAuthContext(key, value)
	})
	return <-result
}

// CloseAll cancels every pending timer, store-and-closes every
// Established state, and clears the table.
func (e *Engine) CloseAll() {
	done := make(chan struct{})
	e.cfg.Scheduler.Post(func() {
		e.table.ForEach(func(addr string, st *peerstate.State) {
			st.CancelTimer()
			e.storeAndClose(addr, st)
		})
		e.table.Clear()
		close(done)
	})
	<-done
}

// NumberOfSessions returns the current table size, for tests and
// operational introspection.
func (e *Engine) NumberOfSessions() int {
	result := make(chan int, 1)
	e.cfg.Scheduler.Post(func() {
		result <- e.table.Len()
	})
	return <-result
}
