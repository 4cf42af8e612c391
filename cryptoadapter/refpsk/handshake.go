package refpsk

import (
	"fmt"
	"time"

	"github.com/jkiiskila/dtls-session-engine/cryptoadapter"
	pcrypto "github.com/jkiiskila/dtls-session-engine/pkg/crypto"
)

// handshakeContext drives one side of the two-message PSK handshake.
type handshakeContext struct {
	cfg  *Config
	addr string

	startTimestamp time.Time

	// client-side state, carried across the cookie round trip.
	clientRandom [32]byte
	sentCookie   []byte
	ownCID       []byte
}

func newHandshakeContext(cfg *Config, addr string) (*handshakeContext, error) {
	h := &handshakeContext{
		cfg:            cfg,
		addr:           addr,
		startTimestamp: time.Now(),
	}

	if cfg.Role == RoleClient {
		random, err := random32()
		if err != nil {
			return nil, err
		}
		h.clientRandom = random

		if supplier := newCIDSupplier(cfg.CIDSize); supplier != nil {
			cid, err := supplier.Next()
			if err != nil {
				return nil, err
			}
			h.ownCID = cid
		}
	}

	return h, nil
}

func (h *handshakeContext) Step(datagram []byte, send cryptoadapter.Send) (cryptoadapter.EstablishedContext, error) {
	if len(datagram) == 0 {
		// On a client-role context this both sends the very first
		// ClientHello (when called right after construction) and
		// retransmits it later (when called by the engine's
		// ReadTimeout-driven retry). A cookie-less and post-cookie
		// ClientHello are both just "whatever was sent last".
		if h.cfg.Role == RoleClient {
			send(h.lastClientHello())
		}
		return nil, nil
	}

	if h.cfg.Role == RoleServer {
		return h.stepServer(datagram, send)
	}
	return h.stepClient(datagram, send)
}

func (h *handshakeContext) lastClientHello() []byte {
	hello := &clientHello{
		identity:     h.cfg.Identity,
		clientRandom: h.clientRandom,
		cookie:       h.sentCookie,
		ownCID:       h.ownCID,
	}
	return hello.marshal()
}

func (h *handshakeContext) stepServer(datagram []byte, send cryptoadapter.Send) (cryptoadapter.EstablishedContext, error) {
	hello, err := parseClientHello(datagram)
	if err != nil {
		return nil, cryptoadapter.NewSSLError("step", err)
	}

	if len(h.cfg.CookieSecret) > 0 {
		expected := helloVerifyCookie(h.cfg.CookieSecret, hello.clientRandom, h.addr)
		if len(hello.cookie) == 0 {
			send((&serverHello{cookie: expected}).marshal())
			return nil, cryptoadapter.ErrHelloVerifyRequired
		}
		if !pcrypto.HMACEqual(hello.cookie, expected) {
			return nil, cryptoadapter.NewSSLError("step", fmt.Errorf("refpsk: cookie mismatch"))
		}
	}

	psk, err := h.cfg.resolvePSK(hello.identity)
	if err != nil {
		return nil, cryptoadapter.NewSSLError("step", err)
	}

	serverRandom, err := random32()
	if err != nil {
		return nil, cryptoadapter.NewSSLError("step", err)
	}

	var ownCID []byte
	if supplier := newCIDSupplier(h.cfg.CIDSize); supplier != nil {
		ownCID, err = supplier.Next()
		if err != nil {
			return nil, cryptoadapter.NewSSLError("step", err)
		}
	}

	keys, err := deriveSessionKeys(psk, hello.clientRandom, serverRandom)
	if err != nil {
		return nil, cryptoadapter.NewSSLError("step", err)
	}

	reply := &serverHello{
		serverRandom: serverRandom,
		cipherSuite:  uint16(h.cfg.resolvedCipherSuite()),
		ownCID:       ownCID,
	}
	send(reply.marshal())

	return newEstablishedContext(h.cfg, keys, ownCID, hello.ownCID, false), nil
}

func (h *handshakeContext) stepClient(datagram []byte, send cryptoadapter.Send) (cryptoadapter.EstablishedContext, error) {
	hello, err := parseServerHello(datagram)
	if err != nil {
		return nil, cryptoadapter.NewSSLError("step", err)
	}

	if len(hello.cookie) > 0 {
		h.sentCookie = hello.cookie
		retry := &clientHello{
			identity:     h.cfg.Identity,
			clientRandom: h.clientRandom,
			cookie:       hello.cookie,
			ownCID:       h.ownCID,
		}
		send(retry.marshal())
		return nil, nil
	}

	keys, err := deriveSessionKeys(h.cfg.PSK, h.clientRandom, hello.serverRandom)
	if err != nil {
		return nil, cryptoadapter.NewSSLError("step", err)
	}

	return newEstablishedContext(h.cfg, keys, h.ownCID, hello.ownCID, false), nil
}

func (h *handshakeContext) Close() {}

func (h *handshakeContext) ReadTimeout() time.Duration {
	return h.cfg.ReadTimeout
}

func (h *handshakeContext) StartTimestamp() time.Time {
	return h.startTimestamp
}

var _ cryptoadapter.HandshakeContext = (*handshakeContext)(nil)
