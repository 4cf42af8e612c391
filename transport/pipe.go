package transport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures network behavior simulation on a Pipe, for
// exercising the engine's retransmit and idle-expiry paths under loss
// and delay without a real socket.
type NetworkCondition struct {
	// DropRate is the probability of dropping a datagram (0.0-1.0).
	DropRate float64

	// DelayMin/DelayMax bound an additional delay applied to every
	// datagram that is not dropped. Actual delay is uniform in
	// [DelayMin, DelayMax].
	DelayMin time.Duration
	DelayMax time.Duration
}

// Pipe provides bidirectional in-memory datagram delivery between two
// Outbound endpoints, for engine tests that want to assert on what was
// sent without opening a real UDP socket. It wraps pion's test.Bridge,
// which is also what pion/dtls itself uses for handshake tests.
type Pipe struct {
	bridge *test.Bridge

	mu        sync.Mutex
	condition NetworkCondition
	closed    bool
	rng       *rand.Rand
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewPipe creates a connected Pipe and starts delivering datagrams
// between its two endpoints in the background.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(1)),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.pump()
	return p
}

func (p *Pipe) pump() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.bridge.Tick()
		}
	}
}

// SetCondition configures loss/delay simulation for subsequent sends in
// both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Close tears down both endpoints and stops delivery.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.bridge.GetConn0().Close()
	p.bridge.GetConn1().Close()
	return nil
}

// Endpoint returns one side of the pipe as an Outbound/InboundHandler
// pair: Send writes onto the pipe toward the other side; Listen starts
// delivering whatever arrives to handler. side must be 0 or 1.
func (p *Pipe) Endpoint(side int) *PipeEndpoint {
	conn := p.bridge.GetConn0()
	if side == 1 {
		conn = p.bridge.GetConn1()
	}
	return &PipeEndpoint{pipe: p, conn: conn}
}

// PipeEndpoint is one side of a Pipe, implementing Outbound. peerAddr
// passed to Send is ignored: a Pipe only ever has one peer.
type PipeEndpoint struct {
	pipe *Pipe
	conn interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
		Close() error
	}

	mu      sync.Mutex
	readErr error
}

// Send implements Outbound.
func (e *PipeEndpoint) Send(datagram []byte, peerAddr string) error {
	e.pipe.mu.Lock()
	cond := e.pipe.condition
	rng := e.pipe.rng
	e.pipe.mu.Unlock()

	if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
		return nil
	}
	if cond.DelayMax > 0 {
		delay := cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	_, err := e.conn.Write(datagram)
	return err
}

// Listen starts a goroutine delivering every datagram arriving on this
// endpoint to handler, tagged with addr as the source (a Pipe has only
// one logical peer, so addr is caller-supplied rather than discovered).
func (e *PipeEndpoint) Listen(addr string, handler InboundHandler) {
	go func() {
		buf := make([]byte, MaxDatagramSize)
		for {
			n, err := e.conn.Read(buf)
			if err != nil {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
				return
			}
			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			handler(addr, datagram)
		}
	}()
}

var _ Outbound = (*PipeEndpoint)(nil)
