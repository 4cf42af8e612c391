package callbacks

import (
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Logging reports lifecycle events through a pion/logging.LeveledLogger,
// at a level matching the event's severity: Info for a successful
// start/finish, Warn for a failed or expired one, Debug for dropped
// messages. Each session gets a correlation ID (a UUID, logged once on
// start and referenced on finish) so operators can thread events for a
// single peer through a shared log stream.
type Logging struct {
	log logging.LeveledLogger

	correlations map[string]string
}

// NewLogging creates a Logging lifecycle reporter using loggerFactory to
// scope its logger, matching how the UDP transport and other ambient
// components in this repository obtain their loggers.
func NewLogging(loggerFactory logging.LoggerFactory) *Logging {
	return &Logging{
		log:          loggerFactory.NewLogger("engine-lifecycle"),
		correlations: make(map[string]string),
	}
}

func (l *Logging) correlationFor(addr string) string {
	if id, ok := l.correlations[addr]; ok {
		return id
	}
	id := uuid.NewString()
	l.correlations[addr] = id
	return id
}

// HandshakeStarted implements Lifecycle.
func (l *Logging) HandshakeStarted(addr string) {
	id := l.correlationFor(addr)
	l.log.Infof("handshake started addr=%s correlation=%s", addr, id)
}

// HandshakeFinished implements Lifecycle.
func (l *Logging) HandshakeFinished(addr string, reason HandshakeReason, err error) {
	id := l.correlationFor(addr)
	switch reason {
	case HandshakeSucceeded:
		l.log.Infof("handshake finished addr=%s correlation=%s reason=%s", addr, id, reason)
	default:
		if err != nil {
			l.log.Warnf("handshake finished addr=%s correlation=%s reason=%s err=%v", addr, id, reason, err)
		} else {
			l.log.Warnf("handshake finished addr=%s correlation=%s reason=%s", addr, id, reason)
		}
	}
}

// SessionStarted implements Lifecycle.
func (l *Logging) SessionStarted(addr, cipherSuite string, reloaded bool) {
	id := l.correlationFor(addr)
	l.log.Infof("session started addr=%s correlation=%s cipherSuite=%s reloaded=%t", addr, id, cipherSuite, reloaded)
}

// SessionFinished implements Lifecycle.
func (l *Logging) SessionFinished(addr string, reason SessionReason, err error) {
	id := l.correlationFor(addr)
	delete(l.correlations, addr)
	switch reason {
	case SessionClosed:
		l.log.Infof("session finished addr=%s correlation=%s reason=%s", addr, id, reason)
	default:
		if err != nil {
			l.log.Warnf("session finished addr=%s correlation=%s reason=%s err=%v", addr, id, reason, err)
		} else {
			l.log.Warnf("session finished addr=%s correlation=%s reason=%s", addr, id, reason)
		}
	}
}

// MessageDropped implements Lifecycle.
func (l *Logging) MessageDropped(addr string) {
	l.log.Debugf("message dropped addr=%s", addr)
}

// PersistenceFailed implements Lifecycle.
func (l *Logging) PersistenceFailed(addr string, err error) {
	l.log.Warnf("persistence failed addr=%s err=%v", addr, err)
}

var _ Lifecycle = (*Logging)(nil)
