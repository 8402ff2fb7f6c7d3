package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/protocol"
)

var errControlNotOpen = errors.New("control channel not open")

// WebRTCConnection is the server side of one participant's peer connection.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	sid    core.SessionID
	cancel context.CancelFunc
	closed atomic.Bool

	// negMu serializes offer/answer handling; pending records a
	// renegotiation requested while an offer was outstanding.
	negMu   sync.Mutex
	pending bool

	mu      sync.RWMutex
	control *webrtc.DataChannel

	onICE         func(webrtc.ICECandidateInit)
	onTrack       func(ctx context.Context, track *webrtc.TrackRemote)
	onRenegotiate func()
	onControl     func(core.Frame)
	onClosed      func()
	closedOnce    sync.Once
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)

func NewWebRTCConnection(api *API, sid core.SessionID) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection()
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, sid: sid}, nil
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			cancel()
			c.fireClosed()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(ctx, track)
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != protocol.ControlLabel {
			log.Warn().Str("module", "webrtc").Str("sid", string(c.sid)).Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		dc.OnOpen(func() {
			c.mu.Lock()
			c.control = dc
			c.mu.Unlock()
			log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("control channel open")
		})
		dc.OnClose(func() {
			c.mu.Lock()
			if c.control == dc {
				c.control = nil
			}
			c.mu.Unlock()
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if c.onControl != nil {
				c.onControl(core.Frame(msg.Data))
			}
		})
	})

	return nil
}

// ApplyOffer answers a participant offer. A server offer still waiting
// for its answer is rolled back first and re-sent afterwards.
func (c *WebRTCConnection) ApplyOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	c.negMu.Lock()
	if c.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("offer collision, rolling back")
		if err := c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			c.negMu.Unlock()
			return nil, err
		}
		c.pending = true
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		c.negMu.Unlock()
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.negMu.Unlock()
		return nil, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.negMu.Unlock()
		return nil, err
	}
	local := c.pc.LocalDescription()
	again := c.takePending()
	c.negMu.Unlock()

	if again {
		c.renegotiateLater()
	}
	return local, nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	c.negMu.Lock()
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		c.negMu.Unlock()
		log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("stale answer ignored")
		return nil
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		c.negMu.Unlock()
		return err
	}
	again := c.takePending()
	c.negMu.Unlock()

	if again {
		c.renegotiateLater()
	}
	return nil
}

func (c *WebRTCConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	c.negMu.Lock()
	defer c.negMu.Unlock()
	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		c.pending = true
		return nil, core.ErrNegotiationPending
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) takePending() bool {
	p := c.pending
	c.pending = false
	return p
}

func (c *WebRTCConnection) renegotiateLater() {
	if c.onRenegotiate != nil && !c.closed.Load() {
		go c.onRenegotiate()
	}
}

func (c *WebRTCConnection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
	}
	c.fireClosed()
}

func (c *WebRTCConnection) IsClosed() bool { return c.closed.Load() }

func (c *WebRTCConnection) fireClosed() {
	c.closedOnce.Do(func() {
		if c.onClosed != nil {
			c.onClosed()
		}
	})
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.onICE = fn
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote)) {
	c.onTrack = fn
}

func (c *WebRTCConnection) OnRenegotiate(fn func()) { c.onRenegotiate = fn }

func (c *WebRTCConnection) OnControl(fn func(core.Frame)) { c.onControl = fn }

// OnClosed sets application-level callback for cleanup tracks
func (c *WebRTCConnection) OnClosed(fn func()) { c.onClosed = fn }

func (c *WebRTCConnection) SendControl(f core.Frame) error {
	c.mu.RLock()
	dc := c.control
	c.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errControlNotOpen
	}
	return dc.SendText(string(f))
}

// AddLocalTrack attaches a local static RTP track to the PeerConnection.
func (c *WebRTCConnection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	// RTCP has to be read for interceptors such as NACK to work.
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

func (c *WebRTCConnection) RemoveTrack(sender *webrtc.RTPSender) error {
	return c.pc.RemoveTrack(sender)
}
