package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Classroom/internal/client/media"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/dkeye/Classroom/internal/protocol"
)

type fakeDC struct {
	mu     sync.Mutex
	state  webrtc.DataChannelState
	sent   []protocol.Message
	onMsg  func(webrtc.DataChannelMessage)
	closes int
}

func (d *fakeDC) Label() string { return protocol.ControlLabel }

func (d *fakeDC) ReadyState() webrtc.DataChannelState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDC) setState(s webrtc.DataChannelState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *fakeDC) SendText(s string) error {
	m, err := protocol.Decode([]byte(s))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.sent = append(d.sent, m)
	d.mu.Unlock()
	return nil
}

func (d *fakeDC) OnOpen(func())  {}
func (d *fakeDC) OnClose(func()) {}

func (d *fakeDC) OnMessage(fn func(webrtc.DataChannelMessage)) {
	d.mu.Lock()
	d.onMsg = fn
	d.mu.Unlock()
}

func (d *fakeDC) Close() error {
	d.mu.Lock()
	d.closes++
	d.state = webrtc.DataChannelStateClosed
	d.mu.Unlock()
	return nil
}

func (d *fakeDC) deliver(t *testing.T, m protocol.Message) {
	t.Helper()
	data, err := m.Encode()
	require.NoError(t, err)
	d.mu.Lock()
	fn := d.onMsg
	d.mu.Unlock()
	require.NotNil(t, fn)
	fn(webrtc.DataChannelMessage{IsString: true, Data: data})
}

func (d *fakeDC) sentOf(typ protocol.Type) []protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []protocol.Message
	for _, m := range d.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (d *fakeDC) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

type fakeSender struct {
	mu       sync.Mutex
	replaced []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	s.replaced = append(s.replaced, t)
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) last() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replaced) == 0 {
		return nil
	}
	return s.replaced[len(s.replaced)-1]
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replaced)
}

type fakePeer struct {
	mu         sync.Mutex
	dc         *fakeDC
	video      *fakeSender
	added      []webrtc.TrackLocal
	offers     []bool
	answers    int
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	onState    func(webrtc.PeerConnectionState)
	onTrack    func(media.RemoteTrack)
	closes     int
}

func newFakePeer() *fakePeer {
	return &fakePeer{dc: &fakeDC{state: webrtc.DataChannelStateConnecting}, video: &fakeSender{}}
}

func (p *fakePeer) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, t)
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		return p.video, nil
	}
	return &fakeSender{}, nil
}

func (p *fakePeer) CreateDataChannel(string) (DataChannel, error) { return p.dc, nil }

func (p *fakePeer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, iceRestart)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", len(p.offers))}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "client-answer"}, nil
}

func (p *fakePeer) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = append(p.remote, sd)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	p.candidates = append(p.candidates, ci)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) OnICECandidate(func(webrtc.ICECandidateInit)) {}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnTrack(fn func(media.RemoteTrack)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) setState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) track(t media.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

func (p *fakePeer) offerLog() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.offers...)
}

func (p *fakePeer) remoteSDPs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.remote))
	for i, sd := range p.remote {
		out[i] = sd.SDP
	}
	return out
}

func (p *fakePeer) stats() (answers, candidates, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers, len(p.candidates), p.closes
}

type fakeTransport struct {
	mu     sync.Mutex
	sent   []protocol.Message
	in     chan []byte
	once   sync.Once
	closed atomic.Bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{in: make(chan []byte, 16)} }

func (t *fakeTransport) Send(m protocol.Message) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	t.sent = append(t.sent, m)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Messages() <-chan []byte { return t.in }

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		t.closed.Store(true)
		close(t.in)
	})
	return nil
}

func (t *fakeTransport) deliver(tb *testing.T, m protocol.Message) {
	tb.Helper()
	data, err := m.Encode()
	require.NoError(tb, err)
	t.in <- data
}

func (t *fakeTransport) sentOf(typ protocol.Type) []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []protocol.Message
	for _, m := range t.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) types() []protocol.Type {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Type, len(t.sent))
	for i, m := range t.sent {
		out[i] = m.Type
	}
	return out
}

// blockingSource produces nothing until it is closed.
type blockingSource struct {
	done chan struct{}
	once sync.Once
}

func newBlockingSource() *blockingSource { return &blockingSource{done: make(chan struct{})} }

func (s *blockingSource) NextSample() (pionmedia.Sample, error) {
	<-s.done
	return pionmedia.Sample{}, io.EOF
}

func (s *blockingSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeDevices struct {
	userErr    error
	displayErr error

	mu      sync.Mutex
	streams []*media.LocalStream
}

func (d *fakeDevices) GetUserMedia(_ context.Context, c media.Constraints) (*media.LocalStream, error) {
	if d.userErr != nil {
		return nil, d.userErr
	}
	var tracks []*media.LocalTrack
	if c.Audio {
		t, err := media.NewLocalTrack(webrtc.RTPCodecTypeAudio, media.OpusCodec, "audio", "me", newBlockingSource())
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if c.Video {
		t, err := media.NewLocalTrack(webrtc.RTPCodecTypeVideo, media.VP8Codec, "video", "me", newBlockingSource())
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return d.keep(media.NewLocalStream("me", c, tracks...)), nil
}

func (d *fakeDevices) GetDisplayMedia(context.Context) (*media.LocalStream, error) {
	if d.displayErr != nil {
		return nil, d.displayErr
	}
	t, err := media.NewLocalTrack(webrtc.RTPCodecTypeVideo, media.VP8Codec, "screen", "me", newBlockingSource())
	if err != nil {
		return nil, err
	}
	return d.keep(media.NewLocalStream("me-screen", media.Constraints{Video: true}, t)), nil
}

func (d *fakeDevices) keep(s *media.LocalStream) *media.LocalStream {
	d.mu.Lock()
	d.streams = append(d.streams, s)
	d.mu.Unlock()
	return s
}

func (d *fakeDevices) stream(i int) *media.LocalStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[i]
}

type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                     { return t.id }
func (t fakeRemoteTrack) StreamID() string               { return t.stream }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType      { return t.kind }
func (t fakeRemoteTrack) Codec() webrtc.RTPCodecParameters { return webrtc.RTPCodecParameters{} }
func (t fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, io.EOF
}

type harness struct {
	t      *testing.T
	c      *Controller
	peer   *fakePeer
	tr     *fakeTransport
	dev    *fakeDevices
	events []Event
	ended  bool
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		peer: newFakePeer(),
		tr:   newFakeTransport(),
		dev:  &fakeDevices{},
	}
	opts := Options{
		Dial:               func(context.Context) (SignalTransport, error) { return h.tr, nil },
		NewPeer:            func() (Peer, error) { return h.peer, nil },
		Devices:            h.dev,
		Constraints:        media.Constraints{Audio: true, Video: true, SampleRate: 48000, ChannelCount: 2},
		Retry:              RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
		NegotiationTimeout: 2 * time.Second,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	h.c = New(opts)
	t.Cleanup(h.c.Disconnect)
	return h
}

func (h *harness) start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		errc <- h.c.InitializeConnection(context.Background(), "room1", "me", "Me", domain.RoleGuest)
	}()
	return errc
}

func (h *harness) waitOffers(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return len(h.tr.sentOf(protocol.TypeOffer)) >= n
	}, time.Second, time.Millisecond)
}

func (h *harness) answer() {
	h.tr.deliver(h.t, protocol.Message{Type: protocol.TypeAnswer, SDP: "server-answer"})
}

// connect runs InitializeConnection through a successful negotiation and
// opens the control channel.
func (h *harness) connect() {
	h.t.Helper()
	errc := h.start()
	h.waitOffers(1)
	h.answer()
	h.peer.setState(webrtc.PeerConnectionStateConnected)
	h.peer.dc.setState(webrtc.DataChannelStateOpen)
	h.wait(errc, nil)
	require.Equal(h.t, domain.StateConnected, h.c.State())
}

func (h *harness) wait(errc <-chan error, check func(error)) {
	h.t.Helper()
	select {
	case err := <-errc:
		if check == nil {
			require.NoError(h.t, err)
		} else {
			check(err)
		}
	case <-time.After(3 * time.Second):
		h.t.Fatal("InitializeConnection did not return")
	}
}

// sync waits until everything posted to the loop so far has run.
func (h *harness) sync() {
	_ = h.c.do(func() error { return nil })
}

func (h *harness) roomState(members ...domain.Participant) {
	h.tr.deliver(h.t, protocol.Message{Type: protocol.TypeRoomState, Room: "room1", Members: members})
	require.Eventually(h.t, func() bool { return h.c.Roster().Len() == len(members) }, time.Second, time.Millisecond)
}

// drain moves every buffered event into h.events. Events are emitted on
// the loop before the call that caused them returns, so no waiting is needed.
func (h *harness) drain() {
	for !h.ended {
		select {
		case ev, ok := <-h.c.Events():
			if !ok {
				h.ended = true
				return
			}
			h.events = append(h.events, ev)
		default:
			return
		}
	}
}

// waitClosed blocks until the controller has torn down and closed Events.
func (h *harness) waitClosed() {
	h.t.Helper()
	timeout := time.After(3 * time.Second)
	for !h.ended {
		select {
		case ev, ok := <-h.c.Events():
			if !ok {
				h.ended = true
				return
			}
			h.events = append(h.events, ev)
		case <-timeout:
			h.t.Fatal("session was not torn down")
		}
	}
}

func (h *harness) snapshot() []Event {
	h.drain()
	return h.events
}

func eventsOf[T Event](h *harness) []T {
	var out []T
	for _, ev := range h.snapshot() {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

func member(id string) domain.Participant {
	return domain.Participant{ID: domain.ParticipantID(id), Name: id, Role: domain.RoleGuest, VideoOn: true}
}
