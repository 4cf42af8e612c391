package refpsk

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/jkiiskila/dtls-session-engine/cryptoadapter"
	pcrypto "github.com/jkiiskila/dtls-session-engine/pkg/crypto"
)

// establishedContext is a completed refpsk session: AES-CCM-keyed
// record protection, addressed by a CID when one was negotiated.
type establishedContext struct {
	cfg *Config

	sendCipher *pcrypto.AESCCM
	recvCipher *pcrypto.AESCCM
	sendKey    []byte
	recvKey    []byte
	sendBase   []byte
	recvBase   []byte

	sendCounter uint64
	recvCounter atomic.Uint64

	ownCID      []byte
	peerCID     []byte
	cipherSuite string
	reloaded    bool

	closed bool
}

func newEstablishedContext(cfg *Config, keys *sessionKeys, ownCID, peerCID []byte, reloaded bool) *establishedContext {
	sendKey, sendBase := keys.clientWriteKey, keys.clientBaseNonce
	recvKey, recvBase := keys.serverWriteKey, keys.serverBaseNonce
	if cfg.Role == RoleServer {
		sendKey, sendBase = keys.serverWriteKey, keys.serverBaseNonce
		recvKey, recvBase = keys.clientWriteKey, keys.clientBaseNonce
	}

	tagSize := cfg.tagSize()
	sendCipher, _ := pcrypto.NewAESCCMWithParams(sendKey, pcrypto.AESCCMNonceSize, tagSize)
	recvCipher, _ := pcrypto.NewAESCCMWithParams(recvKey, pcrypto.AESCCMNonceSize, tagSize)

	return &establishedContext{
		cfg:         cfg,
		sendCipher:  sendCipher,
		recvCipher:  recvCipher,
		sendKey:     sendKey,
		recvKey:     recvKey,
		sendBase:    sendBase,
		recvBase:    recvBase,
		ownCID:      ownCID,
		peerCID:     peerCID,
		cipherSuite: cfg.cipherSuiteName(),
		reloaded:    reloaded,
	}
}

// restoreEstablishedContext rebuilds an establishedContext directly from
// saved key material, bypassing the handshake. Used by LoadSession.
func restoreEstablishedContext(cfg *Config, blob *sessionBlob) (*establishedContext, error) {
	sendCipher, err := pcrypto.NewAESCCMWithParams(blob.SendKey, pcrypto.AESCCMNonceSize, blob.TagSize)
	if err != nil {
		return nil, err
	}
	recvCipher, err := pcrypto.NewAESCCMWithParams(blob.RecvKey, pcrypto.AESCCMNonceSize, blob.TagSize)
	if err != nil {
		return nil, err
	}

	e := &establishedContext{
		cfg:         cfg,
		sendCipher:  sendCipher,
		recvCipher:  recvCipher,
		sendKey:     blob.SendKey,
		recvKey:     blob.RecvKey,
		sendBase:    blob.SendBase,
		recvBase:    blob.RecvBase,
		sendCounter: blob.SendCounter,
		ownCID:      blob.OwnCID,
		peerCID:     blob.PeerCID,
		cipherSuite: blob.CipherSuite,
		reloaded:    true,
	}
	return e, nil
}

// record layout: [peerCID-or-ownCID prefix][8-byte counter][ciphertext||tag]
// AAD binds the prefix and counter into the tag.

func (e *establishedContext) Decrypt(datagram []byte, send cryptoadapter.Send) ([]byte, error) {
	buf := datagram
	if len(e.ownCID) > 0 {
		if len(buf) < len(e.ownCID) {
			return nil, cryptoadapter.NewSSLError("decrypt", fmt.Errorf("refpsk: datagram shorter than CID"))
		}
		buf = buf[len(e.ownCID):]
	}
	if len(buf) < 8 {
		return nil, cryptoadapter.NewSSLError("decrypt", fmt.Errorf("refpsk: datagram shorter than record header"))
	}
	counter := beUint64(buf[:8])
	ciphertext := buf[8:]
	aad := datagram[:len(datagram)-len(ciphertext)]

	nonce := recordNonce(e.recvBase, counter)
	plaintext, err := e.recvCipher.Open(nonce, ciphertext, aad)
	if err != nil {
		return nil, cryptoadapter.NewSSLError("decrypt", err)
	}
	e.recvCounter.Store(counter)

	if len(plaintext) == 1 && plaintext[0] == closeNotifyMarker {
		return nil, cryptoadapter.ErrCloseNotify
	}

	return plaintext, nil
}

// closeNotifyMarker is the plaintext payload of a close_notify record: a
// single reserved byte, authenticated like any other record rather than
// signalled out of band.
const closeNotifyMarker = 0xff

func (e *establishedContext) encryptRecord(plaintext []byte) ([]byte, error) {
	counter := e.sendCounter
	e.sendCounter++

	prefix := e.peerCID
	header := make([]byte, len(prefix)+8)
	copy(header, prefix)
	putUint64(header[len(prefix):], counter)

	nonce := recordNonce(e.sendBase, counter)
	sealed, err := e.sendCipher.Seal(nonce, plaintext, header)
	if err != nil {
		return nil, cryptoadapter.NewSSLError("encrypt", err)
	}

	return append(header, sealed...), nil
}

func (e *establishedContext) Encrypt(plaintext []byte) ([]byte, error) {
	return e.encryptRecord(plaintext)
}

// CloseNotifyDatagram produces an authenticated close_notify record for
// this session, for a caller that wants to signal orderly shutdown
// before calling SaveAndClose or Close. Not part of the
// cryptoadapter.EstablishedContext contract; refpsk-specific.
func (e *establishedContext) CloseNotifyDatagram() ([]byte, error) {
	return e.encryptRecord([]byte{closeNotifyMarker})
}

func (e *establishedContext) SaveAndClose() ([]byte, error) {
	blob, err := marshalBlob(e)
	e.closed = true
	return blob, err
}

func (e *establishedContext) Close() {
	e.closed = true
}

func (e *establishedContext) OwnCID() []byte  { return e.ownCID }
func (e *establishedContext) PeerCID() []byte { return e.peerCID }

func (e *establishedContext) CipherSuite() string { return e.cipherSuite }

func (e *establishedContext) PeerCertificateSubject() string { return "" }

func (e *establishedContext) Reloaded() bool { return e.reloaded }

func beUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func putUint64(b []byte, v uint64) {
	binary.BigEndian.PutUint64(b, v)
}

// CloseNotify produces an authenticated close_notify record for any
// cryptoadapter.EstablishedContext backed by this package, for callers
// that only hold the interface type. Returns ok=false for a context
// from a different Adapter implementation.
func CloseNotify(ectx cryptoadapter.EstablishedContext) (datagram []byte, ok bool, err error) {
	e, isRefpsk := ectx.(*establishedContext)
	if !isRefpsk {
		return nil, false, nil
	}
	datagram, err = e.CloseNotifyDatagram()
	return datagram, true, err
}

var _ cryptoadapter.EstablishedContext = (*establishedContext)(nil)
