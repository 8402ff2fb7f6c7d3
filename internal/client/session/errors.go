package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrNotConnected       = errors.New("session not connected")
	ErrClosed             = errors.New("session closed")
	ErrChannelNotReady    = errors.New("control channel not ready")
	ErrHandlerRegistered  = errors.New("message handler already registered")
	ErrBackpressure       = errors.New("backpressure")
	ErrNoVideoSender      = errors.New("no outgoing video track to replace")
	ErrInvalidTransition  = errors.New("invalid peer state transition")
	ErrEmptyChat          = errors.New("empty chat message")
	ErrChatTooLong        = errors.New("chat message too long")
)

// ConnectionError reports a negotiation or transport failure. Transient
// errors are being retried; permanent ones tear the session down.
type ConnectionError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ConnectionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s connection error during %s: %v", kind, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func permanent(op string, err error) *ConnectionError {
	return &ConnectionError{Op: op, Err: err}
}
