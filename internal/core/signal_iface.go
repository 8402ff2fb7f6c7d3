package core

import "errors"

// Frame is one encoded signaling or control message.
type Frame []byte

var ErrConnClosed = errors.New("connection closed")

// SignalConnection abstracts the signaling transport of one member.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking and fails when the queue is full.
	TrySend(Frame) error
	Close()
}
