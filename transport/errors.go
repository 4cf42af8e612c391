package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed
	// transport.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when an invalid peer address is
	// provided to Send.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrAlreadyStarted is returned when Start is called on an
	// already-running transport.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNotStarted is returned when an operation requires a started
	// transport.
	ErrNotStarted = errors.New("transport: not started")
)
