package refpsk

import (
	"github.com/jkiiskila/dtls-session-engine/cryptoadapter"
)

// Adapter implements cryptoadapter.Adapter with the reference PSK
// handshake and AES-CCM record protection described in the package doc.
type Adapter struct {
	cfg Config
}

// New constructs an Adapter. The Config is copied; later mutation of the
// caller's struct has no effect.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) NewHandshakeContext(addr string) (cryptoadapter.HandshakeContext, error) {
	return newHandshakeContext(&a.cfg, addr)
}

func (a *Adapter) LoadSession(cid, blob []byte, addr string) (cryptoadapter.EstablishedContext, error) {
	decoded, err := unmarshalBlob(blob)
	if err != nil {
		return nil, err
	}
	return restoreEstablishedContext(&a.cfg, decoded)
}

// PeekCID reads a fixed-length CID prefix off a datagram that didn't
// match any existing handshake or session by address. A datagram whose
// first byte is a handshake message tag is never read as carrying a
// CID, so a genuine record whose CID happens to start with one of those
// bytes is not recognized either: the engine then starts a handshake
// with it, which fails to parse and is dropped.
func (a *Adapter) PeekCID(cidSize int, datagram []byte) ([]byte, bool) {
	if cidSize <= 0 || len(datagram) < cidSize {
		return nil, false
	}
	if len(datagram) > 0 && (datagram[0] == msgClientHello || datagram[0] == msgServerHello) {
		return nil, false
	}
	cid := make([]byte, cidSize)
	copy(cid, datagram[:cidSize])
	return cid, true
}

func (a *Adapter) CIDSupplier() cryptoadapter.CIDSupplier {
	return newCIDSupplier(a.cfg.CIDSize)
}

var _ cryptoadapter.Adapter = (*Adapter)(nil)
