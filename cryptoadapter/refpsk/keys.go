package refpsk

import (
	"fmt"

	pcrypto "github.com/jkiiskila/dtls-session-engine/pkg/crypto"
)

// sessionKeys holds the record-layer key material derived once both
// randoms are known. clientWriteKey/clientBaseNonce protect traffic
// flowing client->server; serverWriteKey/serverBaseNonce protect the
// other direction.
type sessionKeys struct {
	clientWriteKey  []byte
	serverWriteKey  []byte
	clientBaseNonce []byte
	serverBaseNonce []byte
}

const (
	writeKeySize  = pcrypto.AESCCMKeySize
	baseNonceSize = pcrypto.AESCCMNonceSize
)

// deriveSessionKeys runs HKDF-SHA256 over the PSK, salted with both
// handshake randoms, and splits the output into the four fields of
// sessionKeys in a fixed order.
func deriveSessionKeys(psk []byte, clientRandom, serverRandom [32]byte) (*sessionKeys, error) {
	salt := make([]byte, 0, 64)
	salt = append(salt, clientRandom[:]...)
	salt = append(salt, serverRandom[:]...)

	total := 2*writeKeySize + 2*baseNonceSize
	material, err := pcrypto.HKDFSHA256(psk, salt, []byte("dtls-session-engine refpsk record keys"), total)
	if err != nil {
		return nil, fmt.Errorf("refpsk: key derivation failed: %w", err)
	}

	k := &sessionKeys{}
	off := 0
	k.clientWriteKey = material[off : off+writeKeySize]
	off += writeKeySize
	k.serverWriteKey = material[off : off+writeKeySize]
	off += writeKeySize
	k.clientBaseNonce = material[off : off+baseNonceSize]
	off += baseNonceSize
	k.serverBaseNonce = material[off : off+baseNonceSize]

	return k, nil
}

// recordNonce XORs an 8-byte big-endian counter into the low 8 bytes of
// base, matching the fixed-nonce-plus-counter construction TLS 1.3
// records use.
func recordNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	off := len(nonce) - 8
	for i := 7; i >= 0; i-- {
		nonce[off+i] ^= byte(counter)
		counter >>= 8
	}
	return nonce
}

// helloVerifyCookie computes the stateless cookie for a ClientHello:
// HMAC-SHA256 over the client random and the peer address, truncated to
// 16 bytes.
func helloVerifyCookie(secret []byte, clientRandom [32]byte, addr string) []byte {
	mac := pcrypto.HMACSHA256Slice(secret, append(append([]byte{}, clientRandom[:]...), []byte(addr)...))
	return mac[:16]
}
