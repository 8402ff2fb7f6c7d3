// Package session manages one participant's side of a live classroom:
// local media, the peer connection to the server, the control channel and
// the roster view kept in sync with it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Classroom/internal/client/media"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
	"github.com/dkeye/Classroom/internal/roster"
)

type Options struct {
	Dial    Dialer
	NewPeer PeerFactory
	// Devices may be nil for a receive-only participant.
	Devices            media.Devices
	Constraints        media.Constraints
	Retry              RetryPolicy
	NegotiationTimeout time.Duration
	Now                func() time.Time
	EventBuffer        int
}

// Controller owns the session. Every field below the loop marker is only
// touched by the loop goroutine; public methods hand work to it.
type Controller struct {
	opts   Options
	log    zerolog.Logger
	bridge *Bridge

	events   chan Event
	inbox    chan func()
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	readers  conc.WaitGroup

	initialized   atomic.Bool
	userClosed    atomic.Bool
	closeOnce     sync.Once
	connected     chan struct{}
	connectedOnce sync.Once
	failed        chan error

	stateVal   atomic.Value
	rosterVal  atomic.Pointer[roster.Roster]
	streamsVal atomic.Pointer[[]*media.RemoteStream]

	// loop
	state      domain.ConnectionState
	peerSM     peerMachine
	pcState    webrtc.PeerConnectionState
	stable     bool
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	attempts   int
	retry      *time.Timer

	room     domain.RoomID
	local    domain.Participant
	roster   roster.Roster
	chat     domain.ChatLog
	chatSeen map[string]struct{}
	streams  map[domain.ParticipantID]*media.RemoteStream
	orphans  map[domain.ParticipantID][]media.RemoteTrack
	departed map[domain.ParticipantID]struct{}

	transport   SignalTransport
	peer        Peer
	camera      *media.LocalStream
	screen      *media.LocalStream
	videoSender Sender
}

func New(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = 15 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:      opts,
		log:       log.With().Str("module", "session").Logger(),
		bridge:    NewBridge(),
		events:    make(chan Event, opts.EventBuffer),
		inbox:     make(chan func(), 64),
		ctx:       ctx,
		cancel:    cancel,
		loopDone:  make(chan struct{}),
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
		state:     domain.StateIdle,
		peerSM:    peerMachine{state: PeerIdle},
		chatSeen:  make(map[string]struct{}),
		streams:   make(map[domain.ParticipantID]*media.RemoteStream),
		orphans:   make(map[domain.ParticipantID][]media.RemoteTrack),
		departed:  make(map[domain.ParticipantID]struct{}),
	}
	c.stateVal.Store(domain.StateIdle)
	empty := roster.New()
	c.rosterVal.Store(&empty)
	c.streamsVal.Store(&[]*media.RemoteStream{})
	_ = c.bridge.OnMessage(func(m protocol.Message) {
		c.post(func() { c.handle(m) })
	})
	go c.loop()
	return c
}

// Events must be drained by the caller. The channel is closed after Disconnect.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) Bridge() *Bridge { return c.bridge }

func (c *Controller) State() domain.ConnectionState {
	return c.stateVal.Load().(domain.ConnectionState)
}

// Roster returns the latest roster snapshot; it stays readable after teardown.
func (c *Controller) Roster() roster.Roster { return *c.rosterVal.Load() }

func (c *Controller) HandQueue() []domain.Participant { return c.Roster().HandQueue() }

func (c *Controller) PeerState() PeerState {
	var s PeerState
	if err := c.do(func() error { s = c.peerSM.state; return nil }); err != nil {
		return PeerClosed
	}
	return s
}

func (c *Controller) Chat() []domain.ChatMessage {
	var out []domain.ChatMessage
	_ = c.do(func() error { out = c.chat.Messages(); return nil })
	return out
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case <-c.ctx.Done():
			c.teardown()
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

// post queues fn on the loop. After teardown it reports false and fn is dropped.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (c *Controller) do(fn func() error) error {
	done := make(chan error, 1)
	if !c.post(func() { done <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-c.loopDone:
		select {
		case err := <-done:
			return err
		default:
			return ErrClosed
		}
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Controller) setState(s domain.ConnectionState, err error) {
	if c.state == s && (err == nil || s == domain.StateError) {
		return
	}
	c.state = s
	c.stateVal.Store(s)
	c.log.Info().Str("state", string(s)).AnErr("cause", err).Msg("connection state")
	c.emit(StateChanged{State: s, Err: err})
}

func (c *Controller) applyRoster(events ...roster.Event) {
	next := c.roster.Fold(events...)
	if next.Version() == c.roster.Version() {
		return
	}
	c.roster = next
	c.rosterVal.Store(&next)
	c.emit(RosterChanged{Roster: next})
}

// InitializeConnection joins sessionID as localID and negotiates media.
// It may be called once per controller and returns when the peer
// connection is up, negotiation failed for good, or the negotiation
// timeout expired. Capture failures do not fail the session; they are
// reported as MediaError events.
func (c *Controller) InitializeConnection(ctx context.Context, sessionID domain.RoomID, localID domain.ParticipantID, displayName string, role domain.Role) error {
	if !c.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.NegotiationTimeout)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	if err := c.do(func() error {
		c.room = sessionID
		c.local = domain.Participant{ID: localID, Name: displayName, Role: role}
		c.log = c.log.With().Str("sid", string(localID)).Str("room", string(sessionID)).Logger()
		c.setState(domain.StateConnecting, nil)
		return nil
	}); err != nil {
		return err
	}

	err := c.connect(ctx)
	if err == nil {
		return nil
	}
	if c.userClosed.Load() {
		return ErrClosed
	}
	// a permanent failure tears the session down, which also ends connect
	select {
	case failure := <-c.failed:
		err = failure
	default:
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		ce = permanent("initialize", err)
	}
	_ = c.do(func() error { c.setState(domain.StateError, ce); return nil })
	c.shutdown()
	return ce
}

func (c *Controller) connect(ctx context.Context) error {
	local := c.acquire(ctx)

	transport, err := c.opts.Dial(ctx)
	if err != nil {
		if local != nil {
			local.Stop()
		}
		return permanent("dial", err)
	}
	peer, err := c.opts.NewPeer()
	if err != nil {
		if local != nil {
			local.Stop()
		}
		_ = transport.Close()
		return permanent("peer", err)
	}

	adopted := false
	err = c.do(func() error {
		adopted = true
		return c.setup(transport, peer, local)
	})
	if !adopted {
		// the session went away before the loop could take ownership
		if local != nil {
			local.Stop()
		}
		_ = peer.Close()
		_ = transport.Close()
		return ErrClosed
	}
	if err != nil {
		return err
	}

	select {
	case <-c.connected:
		return nil
	case err := <-c.failed:
		return err
	case <-ctx.Done():
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return permanent("negotiate", ctx.Err())
	}
}

func (c *Controller) acquire(ctx context.Context) *media.LocalStream {
	if c.opts.Devices == nil || (!c.opts.Constraints.Audio && !c.opts.Constraints.Video) {
		return nil
	}
	s, err := media.Acquire(ctx, c.opts.Devices, c.opts.Constraints)
	if err != nil {
		c.log.Warn().Err(err).Msg("local media unavailable, joining without it")
		c.post(func() { c.emit(MediaError{Err: err}) })
		return nil
	}
	return s
}

func (c *Controller) setup(transport SignalTransport, peer Peer, local *media.LocalStream) error {
	c.transport = transport
	c.peer = peer
	c.camera = local
	if local != nil {
		c.local.Muted = local.Audio() == nil
		c.local.VideoOn = local.Video() != nil
	}

	c.readers.Go(func() { c.readSignals(transport) })

	peer.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.post(func() { _ = c.sendSignal(protocol.Candidate(ci)) })
	})
	peer.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.post(func() { c.onPeerState(s) })
	})
	peer.OnTrack(func(t media.RemoteTrack) {
		c.post(func() { c.onTrack(t) })
	})

	if local != nil {
		for _, t := range local.Tracks() {
			sender, err := peer.AddTrack(t.Track())
			if err != nil {
				return permanent("add track", err)
			}
			if t.Kind() == webrtc.RTPCodecTypeVideo {
				c.videoSender = sender
			}
		}
	}

	dc, err := peer.CreateDataChannel(protocol.ControlLabel)
	if err != nil {
		return permanent("data channel", err)
	}
	c.bridge.attach(dc)
	dc.OnOpen(func() { c.log.Info().Msg("control channel open") })
	dc.OnClose(func() { c.log.Info().Msg("control channel closed") })

	if err := c.sendSignal(protocol.Join(c.room, c.local.Name, c.local.Role)); err != nil {
		return permanent("join", err)
	}
	if err := c.negotiate(false); err != nil {
		return permanent("offer", err)
	}
	return nil
}

func (c *Controller) readSignals(t SignalTransport) {
	for data := range t.Messages() {
		c.bridge.Dispatch(data)
	}
	c.post(c.onTransportClosed)
}

func (c *Controller) sendSignal(m protocol.Message) error {
	if c.transport == nil {
		return ErrNotConnected
	}
	if err := c.transport.Send(m); err != nil {
		c.log.Warn().Err(err).Str("type", string(m.Type)).Msg("signal send failed")
		return err
	}
	return nil
}

func (c *Controller) negotiate(iceRestart bool) error {
	if err := c.peerSM.to(PeerOffering); err != nil {
		return err
	}
	c.stable = false
	offer, err := c.peer.CreateOffer(iceRestart)
	if err != nil {
		_ = c.peerSM.to(PeerFailed)
		return err
	}
	if err := c.peerSM.to(PeerAwaitingAnswer); err != nil {
		return err
	}
	if err := c.sendSignal(protocol.Description(offer)); err != nil {
		_ = c.peerSM.to(PeerFailed)
		return err
	}
	c.log.Debug().Bool("ice_restart", iceRestart).Msg("offer sent")
	return nil
}

func (c *Controller) onTransportClosed() {
	if c.state.Terminal() {
		return
	}
	c.failAsync(permanent("signaling", ErrTransportClosed))
}

// failAsync records a permanent failure and tears the session down from
// outside the loop.
func (c *Controller) failAsync(err error) {
	c.setState(domain.StateError, err)
	select {
	case c.failed <- err:
	default:
	}
	go c.shutdown()
}

func (c *Controller) onPeerState(s webrtc.PeerConnectionState) {
	c.pcState = s
	c.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		c.markConnected()
	case webrtc.PeerConnectionStateDisconnected:
		if c.state == domain.StateConnected {
			c.setState(domain.StateConnecting, &ConnectionError{Op: "ice", Transient: true, Err: errors.New("ice disconnected")})
		}
	case webrtc.PeerConnectionStateFailed:
		c.onNegotiationFailure(errors.New("peer connection failed"))
	}
}

func (c *Controller) markConnected() {
	switch c.peerSM.state {
	case PeerAwaitingAnswer:
		if !c.stable {
			return
		}
		if err := c.peerSM.to(PeerConnected); err != nil {
			return
		}
	case PeerConnected:
	default:
		return
	}
	c.attempts = 0
	c.setState(domain.StateConnected, nil)
	c.connectedOnce.Do(func() { close(c.connected) })
}

func (c *Controller) onNegotiationFailure(cause error) {
	switch c.peerSM.state {
	case PeerClosed, PeerIdle:
		return
	case PeerFailed:
	default:
		_ = c.peerSM.to(PeerFailed)
	}
	c.attempts++
	if !c.opts.Retry.Allows(c.attempts) {
		c.failAsync(permanent("negotiate", cause))
		return
	}
	delay := c.opts.Retry.Delay(c.attempts)
	c.setState(domain.StateConnecting, &ConnectionError{Op: "negotiate", Transient: true, Err: cause})
	c.log.Warn().Err(cause).Int("attempt", c.attempts).Dur("delay", delay).Msg("renegotiating")
	c.retry = time.AfterFunc(delay, func() { c.post(c.renegotiate) })
}

func (c *Controller) renegotiate() {
	if c.peerSM.state != PeerFailed {
		return
	}
	if err := c.negotiate(true); err != nil {
		c.onNegotiationFailure(err)
	}
}

func (c *Controller) handle(m protocol.Message) {
	switch m.Type {
	case protocol.TypeAnswer:
		c.onAnswer(m.SessionDescription())
	case protocol.TypeOffer:
		c.onOffer(m.SessionDescription())
	case protocol.TypeCandidate:
		c.onCandidate(m.ICECandidate())
	case protocol.TypeRoomState:
		c.onRoomState(m)
	case protocol.TypeMemberJoined:
		c.onJoined(*m.User)
	case protocol.TypeMemberLeft:
		c.onLeft(m.From)
	case protocol.TypeMemberUpdated:
		c.applyRoster(roster.RenameEvent(m.User.ID, m.User.Name))
	case protocol.TypeMuteChanged:
		c.applyRemote(m, roster.MuteEvent(m.From, m.Flag()))
	case protocol.TypeVideoChanged:
		c.applyRemote(m, roster.VideoEvent(m.From, m.Flag()))
	case protocol.TypeScreenShare:
		c.applyRemote(m, roster.ShareEvent(m.From, m.Flag()))
	case protocol.TypeHandRaised:
		at := m.Time()
		if at.IsZero() {
			at = c.opts.Now()
		}
		c.applyRemote(m, roster.HandEvent(m.From, m.Flag(), at))
	case protocol.TypeChat:
		c.onChat(m)
	case protocol.TypeError:
		c.log.Warn().Str("error", m.Error).Msg("server error")
		c.emit(ServerError{Message: m.Error})
	default:
		c.log.Debug().Str("type", string(m.Type)).Msg("ignored message")
	}
}

func (c *Controller) applyRemote(m protocol.Message, ev roster.Event) {
	if m.From == "" {
		c.log.Warn().Str("type", string(m.Type)).Msg("control event without sender")
		return
	}
	c.applyRoster(ev)
}

func (c *Controller) onAnswer(sd webrtc.SessionDescription) {
	if c.peerSM.state != PeerAwaitingAnswer || c.stable {
		c.log.Warn().Str("peer_state", string(c.peerSM.state)).Msg("unexpected answer")
		return
	}
	if err := c.peer.SetRemoteDescription(sd); err != nil {
		c.log.Error().Err(err).Msg("apply answer")
		c.onNegotiationFailure(err)
		return
	}
	c.stable = true
	c.remoteSet = true
	c.flushCandidates()
	if c.pcState == webrtc.PeerConnectionStateConnected {
		c.markConnected()
	}
}

// onOffer answers a server-initiated renegotiation, which happens when
// room mates start or stop publishing.
func (c *Controller) onOffer(sd webrtc.SessionDescription) {
	if c.peer == nil || c.peerSM.state == PeerClosed {
		return
	}
	if !c.stable {
		// Our offer is in flight. The server rolls its own back on receiving
		// it and offers again after answering, so this one is already stale.
		c.log.Debug().Msg("colliding server offer dropped")
		return
	}
	if err := c.peer.SetRemoteDescription(sd); err != nil {
		c.log.Error().Err(err).Msg("apply remote offer")
		return
	}
	c.remoteSet = true
	c.flushCandidates()
	answer, err := c.peer.CreateAnswer()
	if err != nil {
		c.log.Error().Err(err).Msg("create answer")
		return
	}
	_ = c.sendSignal(protocol.Description(answer))
}

func (c *Controller) onCandidate(ci webrtc.ICECandidateInit) {
	if c.peer == nil {
		return
	}
	if !c.remoteSet {
		c.candidates = append(c.candidates, ci)
		return
	}
	if err := c.peer.AddICECandidate(ci); err != nil {
		c.log.Warn().Err(err).Msg("add ice candidate")
	}
}

func (c *Controller) flushCandidates() {
	pending := c.candidates
	c.candidates = nil
	for _, ci := range pending {
		c.onCandidate(ci)
	}
}

func (c *Controller) onRoomState(m protocol.Message) {
	events := make([]roster.Event, 0, len(m.Members))
	for _, p := range m.Members {
		delete(c.departed, p.ID)
		events = append(events, roster.JoinEvent(p))
	}
	c.applyRoster(events...)
	for _, msg := range m.History {
		c.appendChat(msg)
	}
	for _, p := range m.Members {
		c.adoptOrphans(p.ID)
	}
}

func (c *Controller) onJoined(p domain.Participant) {
	delete(c.departed, p.ID)
	c.applyRoster(roster.JoinEvent(p))
	c.adoptOrphans(p.ID)
}

func (c *Controller) onLeft(id domain.ParticipantID) {
	c.applyRoster(roster.LeaveEvent(id))
	if id == c.local.ID {
		return
	}
	c.departed[id] = struct{}{}
	delete(c.orphans, id)
	if s, ok := c.streams[id]; ok {
		delete(c.streams, id)
		c.publishStreams()
		c.emit(RemoteStreamRemoved{ParticipantID: id, StreamID: s.ID()})
	}
}

func (c *Controller) onTrack(t media.RemoteTrack) {
	pid := domain.ParticipantID(t.StreamID())
	if pid == "" || pid == c.local.ID {
		return
	}
	if _, gone := c.departed[pid]; gone {
		c.log.Debug().Str("participant", string(pid)).Msg("track of departed participant ignored")
		return
	}
	if !c.roster.Has(pid) {
		c.orphans[pid] = append(c.orphans[pid], t)
		return
	}
	c.addRemoteTrack(pid, t)
}

func (c *Controller) adoptOrphans(pid domain.ParticipantID) {
	tracks := c.orphans[pid]
	delete(c.orphans, pid)
	for _, t := range tracks {
		c.addRemoteTrack(pid, t)
	}
}

func (c *Controller) addRemoteTrack(pid domain.ParticipantID, t media.RemoteTrack) {
	if s, ok := c.streams[pid]; ok && s.ID() == t.StreamID() {
		s.AddTrack(t)
		return
	}
	s := media.NewRemoteStream(pid, t.StreamID(), t)
	c.streams[pid] = s
	c.publishStreams()
	c.emit(RemoteStreamAdded{Stream: s})
}

func (c *Controller) publishStreams() {
	out := make([]*media.RemoteStream, 0, len(c.streams))
	for _, id := range c.roster.IDs() {
		if s, ok := c.streams[id]; ok {
			out = append(out, s)
		}
	}
	c.streamsVal.Store(&out)
}

// RemoteStreams lists the streams currently published by room mates in
// roster order. It never waits on the session loop, so it is safe to call
// from an Events consumer.
func (c *Controller) RemoteStreams() []*media.RemoteStream {
	return *c.streamsVal.Load()
}

func (c *Controller) onChat(m protocol.Message) {
	msg := domain.ChatMessage{ID: m.ID, SenderID: m.From, Text: m.Text}
	if m.Chat != nil {
		msg = *m.Chat
	}
	if msg.SenderName == "" {
		if p, ok := c.roster.Get(msg.SenderID); ok {
			msg.SenderName = p.Name
		}
	}
	c.appendChat(msg)
}

func (c *Controller) appendChat(msg domain.ChatMessage) {
	if msg.ID != "" {
		if _, dup := c.chatSeen[msg.ID]; dup {
			return
		}
		c.chatSeen[msg.ID] = struct{}{}
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = c.opts.Now()
	}
	c.emit(ChatReceived{Message: c.chat.Append(msg)})
}

// ToggleMute mutes or unmutes the microphone track and tells room mates.
// The connection is not renegotiated.
func (c *Controller) ToggleMute(muted bool) error {
	return c.do(func() error {
		if !c.bridge.Ready() {
			return ErrChannelNotReady
		}
		if c.camera != nil {
			c.camera.SetAudioEnabled(!muted)
		}
		c.local.Muted = muted
		c.applyRoster(roster.MuteEvent(c.local.ID, muted))
		return c.bridge.Send(protocol.Mute(muted))
	})
}

func (c *Controller) ToggleVideo(on bool) error {
	return c.do(func() error {
		if !c.bridge.Ready() {
			return ErrChannelNotReady
		}
		if c.camera != nil {
			c.camera.SetVideoEnabled(on)
		}
		c.local.VideoOn = on
		c.applyRoster(roster.VideoEvent(c.local.ID, on))
		return c.bridge.Send(protocol.Video(on))
	})
}

func (c *Controller) ToggleHand(raised bool) error {
	return c.do(func() error {
		if !c.bridge.Ready() {
			return ErrChannelNotReady
		}
		c.local.HandRaised = raised
		c.applyRoster(roster.HandEvent(c.local.ID, raised, c.opts.Now()))
		return c.bridge.Send(protocol.Hand(raised))
	})
}

func (c *Controller) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyChat
	}
	if utf8.RuneCountInString(text) > domain.MaxChatTextLen {
		return ErrChatTooLong
	}
	id := uuid.NewString()
	return c.do(func() error {
		if err := c.bridge.Send(protocol.Chat(id, text)); err != nil {
			return err
		}
		c.appendChat(domain.ChatMessage{ID: id, SenderID: c.local.ID, SenderName: c.local.Name, Text: text})
		return nil
	})
}

// StartScreenShare swaps the outgoing camera track for a screen capture
// without renegotiating. A cancelled picker returns (nil, nil).
func (c *Controller) StartScreenShare(ctx context.Context) (*media.LocalStream, error) {
	if c.opts.Devices == nil {
		return nil, &media.MediaAccessError{Kind: media.KindNoDevice, Device: "display", Err: media.ErrNoDevice}
	}
	if err := c.do(func() error {
		if c.videoSender == nil {
			return ErrNoVideoSender
		}
		if !c.bridge.Ready() {
			return ErrChannelNotReady
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s, err := media.AcquireDisplay(ctx, c.opts.Devices)
	if err != nil || s == nil {
		return nil, err
	}
	if s.Video() == nil {
		s.Stop()
		return nil, &media.MediaAccessError{Kind: media.KindNoDevice, Device: "display", Err: media.ErrNoDevice}
	}

	err = c.do(func() error {
		if c.videoSender == nil {
			return ErrNoVideoSender
		}
		if err := c.videoSender.ReplaceTrack(s.Video().Track()); err != nil {
			return err
		}
		prev := c.screen
		c.screen = s
		if prev != nil {
			prev.Stop()
		}
		c.applyRoster(roster.ShareEvent(c.local.ID, true))
		if err := c.bridge.Send(protocol.ScreenShare(true)); err != nil {
			c.log.Warn().Err(err).Msg("screen share notification not sent")
		}
		return nil
	})
	if err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// StopScreenShare restores the camera track. It is a no-op when nothing is shared.
func (c *Controller) StopScreenShare() error {
	return c.do(func() error {
		if c.screen == nil {
			return nil
		}
		var camera webrtc.TrackLocal
		if c.camera != nil && c.camera.Video() != nil {
			camera = c.camera.Video().Track()
		}
		if err := c.videoSender.ReplaceTrack(camera); err != nil {
			return err
		}
		c.screen.Stop()
		c.screen = nil
		c.applyRoster(roster.ShareEvent(c.local.ID, false))
		if err := c.bridge.Send(protocol.ScreenShare(false)); err != nil {
			c.log.Warn().Err(err).Msg("screen share notification not sent")
		}
		return nil
	})
}

// Disconnect is the single teardown entry point. It releases every
// resource, may be called at any time, from any goroutine, any number of times.
func (c *Controller) Disconnect() {
	c.userClosed.Store(true)
	c.shutdown()
}

func (c *Controller) shutdown() {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.loopDone
		c.readers.Wait()
		close(c.events)
	})
}

func (c *Controller) teardown() {
	if c.retry != nil {
		c.retry.Stop()
	}
	if dc := c.bridge.detach(); dc != nil {
		if err := dc.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close control channel")
		}
	}
	if c.peer != nil {
		if err := c.peer.Close(); err != nil {
			c.log.Error().Err(err).Msg("close peer")
		}
		c.peer = nil
	}
	c.peerSM.state = PeerClosed
	if c.transport != nil {
		_ = c.transport.Send(protocol.Message{Type: protocol.TypeLeave})
		if err := c.transport.Close(); err != nil {
			c.log.Debug().Err(err).Msg("close transport")
		}
		c.transport = nil
	}
	if c.screen != nil {
		c.screen.Stop()
		c.screen = nil
	}
	if c.camera != nil {
		for _, t := range c.camera.Tracks() {
			c.log.Debug().Str("track", t.ID()).Uint64("written", t.Written()).Uint64("dropped", t.Dropped()).Msg("local track stats")
		}
		c.camera.Stop()
		c.camera = nil
	}
	c.videoSender = nil
	c.streams = make(map[domain.ParticipantID]*media.RemoteStream)
	c.orphans = make(map[domain.ParticipantID][]media.RemoteTrack)
	c.publishStreams()

	if c.state != domain.StateError {
		c.state = domain.StateDisconnected
		c.stateVal.Store(domain.StateDisconnected)
		select {
		case c.events <- StateChanged{State: domain.StateDisconnected}:
		default:
		}
	}
	c.log.Info().Msg("session torn down")
}
