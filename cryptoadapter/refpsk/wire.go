// Package refpsk is a reference, PSK-only implementation of
// cryptoadapter.Adapter. It is a simplified stand-in for a real DTLS/PSK
// stack, good enough to exercise the session engine end to end in tests
// and the sample relay, not an RFC 6347-compliant handshake.
//
// The handshake is two messages:
//
//	ClientHello{Identity, ClientRandom}       -> server
//	ServerHello{Cookie}                       <- server (if no cookie yet)
//	ClientHello{Identity, ClientRandom, Cookie} -> server (retry)
//	ServerHello{ServerRandom, CipherSuite}    <- server (accept)
//
// Once both randoms are known, both sides derive a send key, a receive
// key, and a fixed base nonce for each direction from the PSK and the
// two randoms with HKDF-SHA256. Records are AES-128-CCM_8 (or AES-128-CCM, for a 16-byte
// tag) sealed/opened with a nonce built from the base nonce and a
// monotonic per-direction record counter.
package refpsk

import (
	"encoding/binary"
	"errors"
)

// Message type tags, prefixed to every handshake datagram.
const (
	msgClientHello byte = 1
	msgServerHello byte = 2
)

// clientHello is sent by the client to start or retry a handshake.
type clientHello struct {
	identity     []byte
	clientRandom [32]byte
	cookie       []byte // empty on the first ClientHello
	ownCID       []byte // this side's CID offer, empty if CID is disabled
}

func (m *clientHello) marshal() []byte {
	buf := make([]byte, 0, 1+2+len(m.identity)+32+2+len(m.cookie)+2+len(m.ownCID))
	buf = append(buf, msgClientHello)
	buf = appendUint16Prefixed(buf, m.identity)
	buf = append(buf, m.clientRandom[:]...)
	buf = appendUint16Prefixed(buf, m.cookie)
	buf = appendUint16Prefixed(buf, m.ownCID)
	return buf
}

func parseClientHello(buf []byte) (*clientHello, error) {
	if len(buf) < 1 || buf[0] != msgClientHello {
		return nil, errUnexpectedMessage
	}
	buf = buf[1:]

	identity, buf, err := readUint16Prefixed(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < 32 {
		return nil, errTruncatedMessage
	}
	var random [32]byte
	copy(random[:], buf[:32])
	buf = buf[32:]

	cookie, buf, err := readUint16Prefixed(buf)
	if err != nil {
		return nil, err
	}

	ownCID, _, err := readUint16Prefixed(buf)
	if err != nil {
		return nil, err
	}

	return &clientHello{identity: identity, clientRandom: random, cookie: cookie, ownCID: ownCID}, nil
}

// serverHello is sent by the server, either demanding a cookie or
// accepting the handshake.
type serverHello struct {
	cookie       []byte // non-empty means "retry with this cookie"
	serverRandom [32]byte
	cipherSuite  uint16
	ownCID       []byte
}

func (m *serverHello) marshal() []byte {
	buf := make([]byte, 0, 1+2+len(m.cookie)+32+2+2+len(m.ownCID))
	buf = append(buf, msgServerHello)
	buf = appendUint16Prefixed(buf, m.cookie)
	buf = append(buf, m.serverRandom[:]...)
	buf = binary.BigEndian.AppendUint16(buf, m.cipherSuite)
	buf = appendUint16Prefixed(buf, m.ownCID)
	return buf
}

func parseServerHello(buf []byte) (*serverHello, error) {
	if len(buf) < 1 || buf[0] != msgServerHello {
		return nil, errUnexpectedMessage
	}
	buf = buf[1:]

	cookie, buf, err := readUint16Prefixed(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < 32 {
		return nil, errTruncatedMessage
	}
	var random [32]byte
	copy(random[:], buf[:32])
	buf = buf[32:]

	if len(buf) < 2 {
		return nil, errTruncatedMessage
	}
	cipherSuite := binary.BigEndian.Uint16(buf[:2])
	buf = buf[2:]

	ownCID, _, err := readUint16Prefixed(buf)
	if err != nil {
		return nil, err
	}

	return &serverHello{
		cookie:       cookie,
		serverRandom: random,
		cipherSuite:  cipherSuite,
		ownCID:       ownCID,
	}, nil
}

var (
	errUnexpectedMessage = errors.New("refpsk: unexpected message type")
	errTruncatedMessage  = errors.New("refpsk: truncated message")
)

func appendUint16Prefixed(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

func readUint16Prefixed(buf []byte) (data, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, nil, errTruncatedMessage
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if len(buf) < n {
		return nil, nil, errTruncatedMessage
	}
	return buf[:n], buf[n:], nil
}
