package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStateMuted:
		return "muted"
	case TrackStateDelete:
		return "delete"
	}
	return "unknown"
}

// Writer is the sink side of an outgoing track; *webrtc.TrackLocalStaticRTP satisfies it.
type Writer interface {
	WriteRTP(*rtp.Packet) error
}

var _ Writer = (*webrtc.TrackLocalStaticRTP)(nil)

// OutTrack represents a single outgoing track to a subscriber.
type OutTrack struct {
	Track Writer
	// Sender is set when the track was added to a peer connection, so the
	// subscription can be removed again.
	Sender *webrtc.RTPSender
	state  atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(track Writer, sender *webrtc.RTPSender) *OutTrack {
	return &OutTrack{Track: track, Sender: sender}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

// SetMuted toggles between ok and muted. A track marked for deletion stays deleted.
func (ot *OutTrack) SetMuted(muted bool) {
	from, to := TrackStateMuted, TrackStateOk
	if muted {
		from, to = TrackStateOk, TrackStateMuted
	}
	ot.state.CompareAndSwap(int32(from), int32(to))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
