// dtls-relay is a minimal PSK DTLS-ish relay that listens on UDP,
// drives per-peer handshakes and sessions through the engine package
// using the refpsk reference crypto backend, and echoes back any
// application plaintext it decrypts.
//
// Usage:
//
//	dtls-relay [options]
//
// Options:
//
//	-listen      UDP address to listen on (default: ":5684")
//	-psk         Pre-shared key, as a UTF-8 string (default: "shared-secret")
//	-cid-size    Connection ID length in bytes, 0 disables CID support (default: 4)
//	-expire      Idle/handshake timeout (default: 60s)
//
// Example:
//
//	dtls-relay -listen :5684 -psk correct-horse-battery-staple
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/jkiiskila/dtls-session-engine/callbacks"
	"github.com/jkiiskila/dtls-session-engine/cryptoadapter/refpsk"
	"github.com/jkiiskila/dtls-session-engine/engine"
	"github.com/jkiiskila/dtls-session-engine/scheduler"
	"github.com/jkiiskila/dtls-session-engine/store"
	"github.com/jkiiskila/dtls-session-engine/transport"
)

func main() {
	opts := parseFlags()

	loggerFactory := logging.NewDefaultLoggerFactory()
	log := loggerFactory.NewLogger("dtls-relay")

	r, err := newRelay(opts, loggerFactory)
	if err != nil {
		log.Errorf("%v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.run(ctx); err != nil {
		log.Errorf("relay stopped: %v", err)
	}
}

type options struct {
	listen      string
	psk         string
	cidSize     int
	expireAfter time.Duration
}

func parseFlags() options {
	opts := options{}
	flag.StringVar(&opts.listen, "listen", ":5684", "UDP address to listen on")
	flag.StringVar(&opts.psk, "psk", "shared-secret", "pre-shared key")
	flag.IntVar(&opts.cidSize, "cid-size", 4, "Connection ID length in bytes, 0 disables CID support")
	flag.DurationVar(&opts.expireAfter, "expire", 60*time.Second, "idle/handshake timeout")
	flag.Parse()
	return opts
}

// relay owns the engine, transport and store for one running instance.
type relay struct {
	eng      *engine.Engine
	udp      *transport.UDP
	sessions *store.Memory
	log      logging.LeveledLogger
}

func newRelay(opts options, loggerFactory logging.LoggerFactory) (*relay, error) {
	sessions := store.NewMemory()
	adapter := refpsk.New(refpsk.Config{
		Role:    refpsk.RoleServer,
		PSK:     []byte(opts.psk),
		CIDSize: opts.cidSize,
	})

	r := &relay{
		sessions: sessions,
		log:      loggerFactory.NewLogger("dtls-relay"),
	}

	// transport.NewUDP needs a Handler before the engine exists, and
	// engine.New needs a Transport before the UDP transport's Handler
	// can reference it; the handler closes over r.eng, which is filled
	// in below, before Start is ever called.
	udp, err := transport.NewUDP(transport.UDPConfig{
		ListenAddr:    opts.listen,
		LoggerFactory: loggerFactory,
		Handler:       r.onDatagram,
	})
	if err != nil {
		return nil, fmt.Errorf("create UDP transport: %w", err)
	}
	r.udp = udp

	eng, err := engine.New(engine.Config{
		ExpireAfter:  opts.expireAfter,
		Role:         engine.RoleServer,
		Adapter:      adapter,
		StoreSession: sessions.StoreSession,
		Callbacks:    callbacks.NewLogging(loggerFactory),
		Scheduler:    scheduler.NewSerial(256),
		Transport:    udp,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	r.eng = eng

	return r, nil
}

// onDatagram classifies an inbound datagram through the engine and
// echoes back any decrypted application plaintext.
func (r *relay) onDatagram(addr string, datagram []byte) {
	result := r.eng.HandleInbound(addr, datagram)
	switch result.Kind {
	case engine.Decrypted:
		r.log.Infof("decrypted %d bytes from %s", len(result.Packet), addr)
		reply, ok, err := r.eng.EncryptOutbound(addr, result.Packet)
		if err != nil {
			r.log.Warnf("encrypt reply to %s: %v", addr, err)
			return
		}
		if !ok {
			return
		}
		if err := r.udp.Send(reply, addr); err != nil {
			r.log.Warnf("send reply to %s: %v", addr, err)
		}
	case engine.CidSessionMissing:
		session, ok := r.sessions.Load(result.CID)
		if !ok {
			r.log.Debugf("no stored session for CID %x from %s", result.CID, addr)
			return
		}
		if r.eng.LoadSession(addr, result.CID, &session) {
			r.sessions.Delete(result.CID)
			r.log.Infof("reloaded session for %s from CID %x", addr, result.CID)
		}
	case engine.DecryptFailed:
		r.log.Warnf("decrypt failed from %s", addr)
	}
}

func (r *relay) run(ctx context.Context) error {
	if err := r.udp.Start(); err != nil {
		return fmt.Errorf("start UDP transport: %w", err)
	}
	r.log.Infof("listening on %s", r.udp.LocalAddr())

	<-ctx.Done()

	r.log.Info("shutting down")
	r.eng.CloseAll()
	return r.udp.Stop()
}
