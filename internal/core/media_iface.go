package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrNegotiationPending is returned by CreateOffer while an offer is
// already outstanding. The connection remembers the request and fires
// OnRenegotiate once the answer has been applied.
var ErrNegotiationPending = errors.New("negotiation pending")

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool

	// ApplyOffer answers a participant offer, rolling back a pending
	// server offer if both sides offered at once.
	ApplyOffer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// CreateOffer starts a server-initiated renegotiation.
	CreateOffer() (*webrtc.SessionDescription, error)
	AddICECandidate(webrtc.ICECandidateInit) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote))
	OnRenegotiate(func())
	// OnControl receives frames from the participant's control data channel.
	OnControl(func(Frame))
	OnClosed(func())

	// SendControl writes to the control data channel if it is open.
	SendControl(Frame) error
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	RemoveTrack(*webrtc.RTPSender) error
}
