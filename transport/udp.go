package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// MaxDatagramSize bounds a single UDP send/receive, matching typical
// DTLS-over-UDP deployments (well under the common 1500-byte link MTU
// once IP/UDP headers are accounted for).
const MaxDatagramSize = 1400

// UDP is a net.PacketConn-backed transport. It owns a read loop that
// delivers every inbound datagram to a configured InboundHandler, and
// implements Outbound for sending.
type UDP struct {
	conn    net.PacketConn
	handler InboundHandler
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	started bool
	closed  bool
}

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn. If nil, a new
	// connection is created by listening on ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g. ":5684"). Ignored if
	// Conn is provided.
	ListenAddr string

	// Handler receives every inbound datagram. Required once Start is
	// called.
	Handler InboundHandler

	// LoggerFactory creates this transport's logger. If nil, logging is
	// disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a UDP transport per config.
func NewUDP(config UDPConfig) (*UDP, error) {
	u := &UDP{
		conn:    config.Conn,
		handler: config.Handler,
		closeCh: make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

// LocalAddr returns the transport's local address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Start begins the read loop. Received datagrams are delivered to the
// configured Handler.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("starting UDP transport on %s", u.conn.LocalAddr())
	}

	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Stop closes the transport and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("stopping UDP transport")
	}

	close(u.closeCh)
	u.conn.SetReadDeadline(time.Now())
	u.conn.Close()
	u.wg.Wait()
	return nil
}

// Send implements Outbound. peerAddr is resolved with net.ResolveUDPAddr.
func (u *UDP) Send(datagram []byte, peerAddr string) error {
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	u.mu.RUnlock()

	addr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return ErrInvalidAddress
	}

	if u.log != nil {
		u.log.Debugf("sending %d bytes to %v", len(datagram), addr)
	}

	_, err = u.conn.WriteTo(datagram, addr)
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
			}
			if u.log != nil {
				u.log.Warnf("read error: %v", err)
			}
			continue
		}

		if u.handler != nil {
			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			u.handler(addr.String(), datagram)
		}
	}
}

var _ Outbound = (*UDP)(nil)
