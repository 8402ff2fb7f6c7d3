package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Classroom/internal/adapters/rtc"
	"github.com/dkeye/Classroom/internal/client/media"
)

// Sender is the outgoing side of a local track.
type Sender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

var _ Sender = (*webrtc.RTPSender)(nil)

// Peer is the controller's view of one peer connection.
// CreateOffer and CreateAnswer also apply the result as the local description.
type Peer interface {
	AddTrack(webrtc.TrackLocal) (Sender, error)
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(media.RemoteTrack))
	Close() error
}

// PeerFactory creates a fresh peer connection.
type PeerFactory func() (Peer, error)

// PionPeers builds peers from a shared pion API.
func PionPeers(api *rtc.API) PeerFactory {
	return func() (Peer, error) {
		pc, err := api.NewPeerConnection()
		if err != nil {
			return nil, err
		}
		return &pionPeer{pc: pc}, nil
	}
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	sender, err := p.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	// drain RTCP so interceptors keep working
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	return p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
}

func (p *pionPeer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *pionPeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sd)
}

func (p *pionPeer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *pionPeer) OnTrack(fn func(media.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (p *pionPeer) Close() error { return p.pc.Close() }
