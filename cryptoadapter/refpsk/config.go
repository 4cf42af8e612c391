package refpsk

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/pion/dtls/v3"

	pcrypto "github.com/jkiiskila/dtls-session-engine/pkg/crypto"
)

// Role selects which side of the handshake an Adapter plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// PSKLookup resolves a PSK identity to its key, for a server accepting
// connections from more than one known identity. Returning ok == false
// fails the handshake.
type PSKLookup func(identity []byte) (psk []byte, ok bool)

// Config configures a refpsk Adapter.
type Config struct {
	// Role selects client or server behavior.
	Role Role

	// Identity is this side's PSK identity, sent in ClientHello when
	// Role is RoleClient.
	Identity []byte

	// PSK is the shared secret used directly when PSKLookup is nil.
	// Required for RoleClient; a server may instead set PSKLookup for
	// a multi-identity deployment.
	PSK []byte

	// PSKLookup, if set, overrides PSK for RoleServer: the identity
	// presented in ClientHello selects the key to use.
	PSKLookup PSKLookup

	// CipherSuite selects the AEAD used for records:
	// dtls.TLS_PSK_WITH_AES_128_CCM_8 (8-byte tag, default) or
	// dtls.TLS_PSK_WITH_AES_128_CCM (16-byte tag).
	CipherSuite dtls.CipherSuiteID

	// CIDSize is the fixed Connection ID length this side advertises.
	// Zero disables CID support.
	CIDSize int

	// CookieSecret keys the HMAC-SHA256 stateless cookie a server
	// computes in response to a cookie-less ClientHello. Required for
	// RoleServer when cookie verification is desired; if empty, the
	// server skips hello-verify and accepts the first ClientHello.
	CookieSecret []byte

	// ReadTimeout is how long a HandshakeContext asks the engine to
	// wait before retrying the handshake step with an empty datagram.
	// Zero disables handshake retransmission.
	ReadTimeout time.Duration
}

func (c *Config) tagSize() int {
	if c.CipherSuite == dtls.TLS_PSK_WITH_AES_128_CCM {
		return pcrypto.AESCCMTagSize
	}
	return pcrypto.AESCCMTagSize8
}

func (c *Config) cipherSuiteName() string {
	if c.CipherSuite == 0 {
		return dtls.TLS_PSK_WITH_AES_128_CCM_8.String()
	}
	return c.CipherSuite.String()
}

func (c *Config) resolvedCipherSuite() dtls.CipherSuiteID {
	if c.CipherSuite == 0 {
		return dtls.TLS_PSK_WITH_AES_128_CCM_8
	}
	return c.CipherSuite
}

func (c *Config) resolvePSK(identity []byte) ([]byte, error) {
	if c.PSKLookup != nil {
		psk, ok := c.PSKLookup(identity)
		if !ok {
			return nil, fmt.Errorf("refpsk: unknown identity %q", identity)
		}
		return psk, nil
	}
	if len(c.PSK) == 0 {
		return nil, fmt.Errorf("refpsk: no PSK configured")
	}
	return c.PSK, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func random32() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, err
	}
	return b, nil
}
